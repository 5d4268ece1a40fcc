package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/example/visionary-scheduler/internal/application"
	"github.com/example/visionary-scheduler/internal/logging"
	"github.com/example/visionary-scheduler/internal/scheduler"
)

var (
	errBadRequestBody  = errors.New("無効なリクエスト形式です。")
	errInvalidID       = errors.New("無効な ID です。")
	errMissingUserID   = errors.New("X-User-ID ヘッダーを指定してください")
	errInvalidTimeZone = errors.New("無効なタイムゾーンです。")
)

type responder struct {
	logger *slog.Logger
}

func newResponder(logger *slog.Logger) responder {
	if logger == nil {
		logger = slog.Default()
	}
	return responder{logger: logger}
}

func (r responder) writeJSON(ctx context.Context, w http.ResponseWriter, status int, payload any) {
	if w == nil {
		return
	}

	if status == http.StatusNoContent || payload == nil {
		w.WriteHeader(status)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		r.loggerFor(ctx).ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (r responder) writeError(ctx context.Context, w http.ResponseWriter, status int, err error) {
	message := localizedStatusMessage(status)
	if err != nil {
		if msg := strings.TrimSpace(err.Error()); msg != "" {
			message = msg
		}
		r.loggerFor(ctx).ErrorContext(ctx, "request failed", "status", status, "error", err)
	}

	r.writeJSON(ctx, w, status, errorResponse{Message: message})
}

func (r responder) handleServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		r.writeError(ctx, w, http.StatusInternalServerError, errors.New("unknown error"))
		return
	}

	var (
		overlap *scheduler.OverlapError
		vErr    *application.ValidationError
	)
	switch {
	case errors.As(err, &vErr):
		r.writeJSON(ctx, w, http.StatusUnprocessableEntity, errorResponse{
			ErrorCode: "VALIDATION_FAILED",
			Message:   "入力内容に誤りがあります。",
			Errors:    localizeValidationErrors(vErr),
		})
	case errors.As(err, &overlap):
		r.writeJSON(ctx, w, http.StatusConflict, errorResponse{
			ErrorCode:     "FIXED_EVENT_OVERLAP",
			Message:       "既存の予定と時間が重なっています。",
			ConflictingID: overlap.ConflictingID,
		})
	case errors.Is(err, scheduler.ErrInvalidTransition):
		r.writeJSON(ctx, w, http.StatusConflict, errorResponse{
			ErrorCode: "INVALID_TRANSITION",
			Message:   "タスクの状態を変更できません。",
		})
	case errors.Is(err, application.ErrAlreadyExists):
		r.writeJSON(ctx, w, http.StatusConflict, errorResponse{Message: localizedStatusMessage(http.StatusConflict)})
	case errors.Is(err, application.ErrNotFound):
		r.writeJSON(ctx, w, http.StatusNotFound, errorResponse{Message: "指定されたリソースが見つかりません。"})
	case errors.Is(err, application.ErrNotConfigured):
		r.writeJSON(ctx, w, http.StatusServiceUnavailable, errorResponse{Message: localizedStatusMessage(http.StatusServiceUnavailable)})
	default:
		r.loggerFor(ctx).ErrorContext(ctx, "unexpected service error", "error", err, "error_kind", application.ErrorKind(err))
		r.writeJSON(ctx, w, http.StatusInternalServerError, errorResponse{Message: "サーバー内部でエラーが発生しました。"})
	}
}

func (r responder) loggerFor(ctx context.Context) *slog.Logger {
	return logging.FromContextOr(ctx, r.logger)
}

func localizedStatusMessage(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "リクエスト内容が正しくありません。"
	case http.StatusUnauthorized:
		return "認証が必要です。"
	case http.StatusNotFound:
		return "指定されたリソースが見つかりません。"
	case http.StatusConflict:
		return "要求はリソースの現在の状態と競合しています。"
	case http.StatusUnprocessableEntity:
		return "入力内容に誤りがあります。"
	case http.StatusServiceUnavailable:
		return "この機能は現在利用できません。"
	default:
		return "サーバー内部でエラーが発生しました。"
	}
}

func localizeValidationErrors(vErr *application.ValidationError) map[string]string {
	if vErr == nil || len(vErr.FieldErrors) == 0 {
		return nil
	}

	translated := make(map[string]string, len(vErr.FieldErrors))
	for field, msg := range vErr.FieldErrors {
		translated[field] = translateValidationMessage(msg)
	}
	return translated
}

func translateValidationMessage(message string) string {
	switch message {
	case "user id is required":
		return "ユーザー ID は必須です。"
	case "title is required":
		return "タイトルは必須です。"
	case "start is required":
		return "開始日時は必須です。"
	case "end is required":
		return "終了日時は必須です。"
	case "start must be before end":
		return "終了日時は開始日時より後である必要があります。"
	case "duration must be positive":
		return "所要時間は正の値で指定してください。"
	case "minimum duration must not exceed duration":
		return "最短所要時間は所要時間以下で指定してください。"
	case "minimum duration must not be negative":
		return "最短所要時間に負の値は指定できません。"
	case "category must be one of financial, health, nutrition, psychological, task":
		return "カテゴリーは financial, health, nutrition, psychological, task のいずれかを指定してください。"
	case "policy must be one of block, defer, notify":
		return "割り込みポリシーは block, defer, notify のいずれかを指定してください。"
	case "frequency must be daily or weekly":
		return "繰り返し頻度は daily または weekly を指定してください。"
	case "recurs too often to expand":
		return "繰り返しの間隔が短すぎます。"
	case "interval must not be negative":
		return "繰り返し間隔に負の値は指定できません。"
	case "violates a storage constraint":
		return "保存できない値が含まれています。"
	case "deadline must be after earliest start":
		return "締め切りは開始可能日時より後である必要があります。"
	case "a fixed-start task needs an earliest start":
		return "開始時刻固定のタスクには開始可能日時が必要です。"
	case "confidence must be between 0 and 1":
		return "確信度は 0 から 1 の範囲で指定してください。"
	case "calendar id is required":
		return "カレンダー ID は必須です。"
	case "content is required":
		return "内容を入力してください。"
	default:
		return message
	}
}

type errorResponse struct {
	ErrorCode     string            `json:"error_code,omitempty"`
	Message       string            `json:"message"`
	Errors        map[string]string `json:"errors,omitempty"`
	ConflictingID string            `json:"conflicting_id,omitempty"`
}
