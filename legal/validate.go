package legal

import (
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	errorskg "github.com/sweetpotato0/lexcrag/errors"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// validateStruct runs tag validation and folds failures into ErrInvalidInput.
func validateStruct(kind string, v any) error {
	err := structValidator().Struct(v)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return fmt.Errorf("%s: %w: %v", kind, errorskg.ErrInvalidInput, err)
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %s=%s", fe.Field(), fe.Tag(), fe.Param()))
	}
	return fmt.Errorf("%s: %w: %s", kind, errorskg.ErrInvalidInput, strings.Join(parts, "; "))
}
