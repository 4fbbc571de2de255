package validator

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	govalidator "github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
)

var (
	engineOnce  sync.Once
	engine      *govalidator.Validate
	engineTrans ut.Translator

	// bindingTrans is set by Setup. Until then binding errors keep the
	// validator's own text.
	bindingTrans ut.Translator
)

// configure makes v report JSON field names and registers English messages
// on a translator of its own. Translations are stored per translator, so
// two validators cannot share one.
func configure(v *govalidator.Validate) (ut.Translator, error) {
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	enLocale := en.New()
	trans, _ := ut.New(enLocale, enLocale).GetTranslator("en")
	if err := en_translations.RegisterDefaultTranslations(v, trans); err != nil {
		return nil, fmt.Errorf("register translations: %w", err)
	}
	return trans, nil
}

// Engine returns the validator used for `validate:` struct tags outside of
// request binding (schedule records, decoded interchange files).
func Engine() *govalidator.Validate {
	engineOnce.Do(func() {
		engine = govalidator.New(govalidator.WithRequiredStructEnabled())
		trans, err := configure(engine)
		if err != nil {
			panic("validator: " + err.Error())
		}
		engineTrans = trans
	})
	return engine
}

// Setup registers JSON field names and English translations on Gin's binding
// engine. Call once during application startup.
func Setup() error {
	v, ok := binding.Validator.Engine().(*govalidator.Validate)
	if !ok {
		return nil
	}
	trans, err := configure(v)
	if err != nil {
		return err
	}
	bindingTrans = trans
	return nil
}

// Struct validates v and returns field → message pairs, or nil when v is valid.
func Struct(v any) map[string]string {
	if err := Engine().Struct(v); err != nil {
		return translate(err, engineTrans)
	}
	return nil
}

// translate turns a binding/validation error into field name → message
// pairs. Anything that is not a validation error lands under "detail".
func translate(err error, trans ut.Translator) map[string]string {
	fields := make(map[string]string)

	var ve govalidator.ValidationErrors
	if errors.As(err, &ve) {
		for _, fe := range ve {
			fields[fe.Field()] = fe.Translate(trans)
		}
		return fields
	}

	fields["detail"] = err.Error()
	return fields
}

// Bind binds and validates the request body into dst.
// Returns nil on success or a translated field error map on failure.
func Bind(c *gin.Context, dst any) map[string]string {
	if err := c.ShouldBindJSON(dst); err != nil {
		return translate(err, bindingTrans)
	}
	return nil
}

// BindQuery binds and validates query-string parameters into dst.
func BindQuery(c *gin.Context, dst any) map[string]string {
	if err := c.ShouldBindQuery(dst); err != nil {
		return translate(err, bindingTrans)
	}
	return nil
}
