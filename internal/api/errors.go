package api

import (
	"net/http"

	"amethyst/internal/filter"
	"amethyst/internal/hooks"
	"amethyst/internal/manager"
	"amethyst/internal/query"
	"amethyst/internal/schema"
	"amethyst/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Коды ошибок поверх кодов валидации менеджера.
const (
	ErrUniqueViolation = "unique_violation"
	ErrFKInUse         = "fk_in_use"
	ErrVersionConflict = "version_conflict"
	ErrInvalidJSON     = "invalid_json"
)

// abortWithError переводит ошибку слоя менеджера/хранилища в HTTP-ответ.
func (srv *Server) abortWithError(c *gin.Context, err error) {
	status, body := srv.errorResponse(err)
	log := zerolog.Ctx(c.Request.Context())
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Msg("request failed")
	} else {
		log.Debug().Err(err).Int("status", status).Msg("request rejected")
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, body)
}

func (srv *Server) errorResponse(err error) (int, gin.H) {
	var (
		syntaxErr     *filter.SyntaxError
		keyErr        *filter.KeyError
		validationErr *manager.ValidationError
		constraintErr *store.ConstraintError
		hookErr       *hooks.Error
		lintErr       *schema.LintError
	)

	switch {
	case errors.As(err, &validationErr):
		status := http.StatusBadRequest
		for _, fe := range validationErr.Errors {
			if fe.Code == manager.ErrRefNotFound {
				status = http.StatusConflict
			}
		}
		return status, gin.H{"errors": validationErr.Errors}

	case errors.As(err, &constraintErr):
		return http.StatusConflict, gin.H{"errors": []manager.FieldError{constraintFieldError(constraintErr)}}

	case errors.Is(err, store.ErrVersionConflict):
		return http.StatusConflict, gin.H{"errors": []manager.FieldError{{
			Code: ErrVersionConflict, Field: "version", Message: "record was modified by another request",
		}}}

	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, gin.H{"error": "Record not found"}

	case errors.As(err, &syntaxErr), errors.As(err, &keyErr),
		errors.Is(err, store.ErrInvalidFilter), errors.Is(err, store.ErrRelationNotJoined),
		errors.Is(err, ErrUnknownInclude), errors.Is(err, query.ErrInvalidOrder):
		return http.StatusBadRequest, gin.H{"error": err.Error()}

	case errors.As(err, &lintErr):
		return http.StatusBadRequest, gin.H{"error": "schema has blocking issues", "issues": lintErr.Issues}

	case errors.As(err, &hookErr):
		srv.metrics.RecordHookFailure(hookErr.Name)
		return http.StatusInternalServerError, gin.H{"error": "hook " + hookErr.Name + " failed"}
	}
	return http.StatusInternalServerError, gin.H{"error": "Internal error"}
}

func constraintFieldError(e *store.ConstraintError) manager.FieldError {
	switch e.Kind {
	case store.ConstraintUnique:
		return manager.FieldError{Code: ErrUniqueViolation, Field: e.Field, Message: "Value must be unique"}
	case store.ConstraintReferenced:
		return manager.FieldError{Code: ErrFKInUse, Field: e.Field, Message: "record is referenced by " + e.Entity + "." + e.Field}
	default:
		return manager.FieldError{Code: manager.ErrRefNotFound, Field: e.Field, Message: "referenced record not found"}
	}
}
