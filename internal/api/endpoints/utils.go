package endpoints

import (
	"errors"
	"fmt"
	"net/http"

	"support-desk-backend/internal/api"
	"support-desk-backend/internal/dto"
	"support-desk-backend/internal/errs"
	"support-desk-backend/internal/model"
	syncservice "support-desk-backend/internal/service/sync"
)

type HTTPError = api.HTTPError

type ApiMessageResponse struct {
	Message string `json:"message"`
}

func WriteJSON(w http.ResponseWriter, status int, v any) error {
	return api.WriteJSON(w, status, v)
}

func MethodHandler(
	w http.ResponseWriter,
	r *http.Request,
	allowed map[string]func(http.ResponseWriter, *http.Request) error,
) error {
	if handler, ok := allowed[r.Method]; ok {
		return handler(w, r)
	}
	return &HTTPError{
		StatusCode: http.StatusMethodNotAllowed,
		Message:    "Method not allowed.",
		ErrorLog:   fmt.Errorf("method not allowed"),
	}
}

// serviceError translates the service error taxonomy into HTTP responses.
// State conflicts (invalid transition, lost claim race, duplicate enqueue)
// all map to 409 with the specific code in the message.
func serviceError(err error) error {
	if err == nil {
		return nil
	}

	var svcErr *errs.Error
	if !errors.As(err, &svcErr) {
		return &HTTPError{
			StatusCode: http.StatusInternalServerError,
			Message:    "Internal server error",
			ErrorLog:   fmt.Errorf("service: %w", err),
		}
	}

	var logErr error
	if svcErr.Err != nil {
		logErr = fmt.Errorf("%s: %w", svcErr.Message, svcErr.Err)
	} else {
		logErr = svcErr
	}

	switch svcErr.Code {
	case errs.CodeValidation:
		return &HTTPError{StatusCode: http.StatusBadRequest, Message: svcErr.Message, ErrorLog: logErr}
	case errs.CodeUnauthorized:
		return &HTTPError{StatusCode: http.StatusUnauthorized, Message: svcErr.Message, ErrorLog: logErr}
	case errs.CodeForbidden:
		return &HTTPError{StatusCode: http.StatusForbidden, Message: svcErr.Message, ErrorLog: logErr}
	case errs.CodeNotFound:
		return &HTTPError{StatusCode: http.StatusNotFound, Message: svcErr.Message, ErrorLog: logErr}
	case errs.CodeInvalidTransition, errs.CodeAlreadyQueued, errs.CodeAlreadyClaimed, errs.CodeConflict:
		return &HTTPError{StatusCode: http.StatusConflict, Message: svcErr.Message, ErrorLog: logErr}
	case errs.CodeStoreUnavailable:
		return &HTTPError{StatusCode: http.StatusServiceUnavailable, Message: svcErr.Message, ErrorLog: logErr}
	default:
		return &HTTPError{StatusCode: http.StatusInternalServerError, Message: "Internal server error", ErrorLog: logErr}
	}
}

func toConversationMetadata(item model.ConversationItem) dto.ConversationMetadata {
	return dto.ConversationMetadata{
		ConversationID:     item.ConversationID,
		Status:             string(item.Status),
		Priority:           string(item.Priority),
		AssignedOperatorID: item.AssignedOperatorID,
		CreatedAt:          item.CreatedAt,
		UpdatedAt:          item.UpdatedAt,
		LastMessageAt:      item.LastMessageAt,
		ResolvedAt:         item.ResolvedAt,
		Metadata:           cloneMetadata(item.Metadata),
	}
}

func toMessageResponse(item model.MessageItem) dto.MessageResponse {
	return dto.MessageResponse{
		MessageID:        item.MessageID,
		ConversationID:   item.ConversationID,
		Seq:              item.Seq,
		Type:             string(item.Type),
		Body:             item.Body,
		Confidence:       item.Confidence,
		AuthorOperatorID: item.AuthorOperatorID,
		ParentMessageID:  item.ParentMessageID,
		CreatedAt:        item.CreatedAt,
	}
}

func toSyncResponse(snapshot syncservice.Snapshot) dto.SyncResponse {
	messages := make([]dto.MessageResponse, len(snapshot.Messages))
	for i, message := range snapshot.Messages {
		messages[i] = toMessageResponse(message)
	}
	return dto.SyncResponse{
		Status:             string(snapshot.Status),
		AssignedOperatorID: snapshot.AssignedOperatorID,
		Cursor:             snapshot.Cursor,
		Messages:           messages,
	}
}

func cloneMetadata(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
