package validate

import (
	"errors"
	"net/url"
	"reflect"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"

	"jeoparty/internal/apperr"
)

var (
	v          *validator.Validate
	translator ut.Translator

	notBlankTag   = "notblank"
	safeTextTag   = "safetext"
	pointValueTag = "pointvalue"
	httpsURLTag   = "httpsurl"
)

// PointValues are the rows of a board.
var PointValues = []int{100, 200, 300, 400, 500}

func init() {
	v = validator.New()

	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ = uni.GetTranslator("en")
	_ = en_translations.RegisterDefaultTranslations(v, translator)

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	_ = v.RegisterValidation(notBlankTag, func(fl validator.FieldLevel) bool {
		s, ok := fl.Field().Interface().(string)
		return ok && strings.TrimSpace(s) != ""
	})
	_ = v.RegisterValidation(safeTextTag, func(fl validator.FieldLevel) bool {
		s, ok := fl.Field().Interface().(string)
		return ok && !hasMarkup(s) && !hasControl(s, true)
	})
	_ = v.RegisterValidation(pointValueTag, func(fl validator.FieldLevel) bool {
		return IsPointValue(int(fl.Field().Int()))
	})
	_ = v.RegisterValidation(httpsURLTag, func(fl validator.FieldLevel) bool {
		s, ok := fl.Field().Interface().(string)
		return ok && IsHTTPSURL(s)
	})

	registerFn := func(ut.Translator) error { return nil }
	for _, tag := range []string{notBlankTag, safeTextTag, pointValueTag, httpsURLTag} {
		_ = v.RegisterTranslation(tag, translator, registerFn, translateCustom)
	}
}

func translateCustom(_ ut.Translator, fe validator.FieldError) string {
	switch fe.Tag() {
	case notBlankTag:
		return "this field cannot be blank"
	case safeTextTag:
		return "contains disallowed markup or control characters"
	case pointValueTag:
		return "must be one of 100, 200, 300, 400, 500"
	case httpsURLTag:
		return "must be an https URL"
	default:
		return ""
	}
}

// Struct runs tag validation and converts failures into an *apperr.ValidationError.
func Struct(s any) error {
	err := v.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	out := &apperr.ValidationError{}
	for _, fe := range verrs {
		out.Add(fieldName(fe), fe.Translate(translator))
	}
	return out
}

// fieldName drops the top-level struct name from the namespace so nested fields read as "teams[0]".
func fieldName(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

func IsPointValue(n int) bool {
	for _, p := range PointValues {
		if p == n {
			return true
		}
	}
	return false
}

func IsHTTPSURL(s string) bool {
	u, err := url.Parse(strings.TrimSpace(s))
	if err != nil {
		return false
	}
	return u.Scheme == "https" && u.Host != ""
}
