package pipeline

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func optionValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		// Report option names as written in the settings file.
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name, _, _ := strings.Cut(fld.Tag.Get("mapstructure"), ",")
			if name == "-" {
				return ""
			}
			if name == "" {
				return fld.Name
			}
			return name
		})
	})
	return validate
}

// DecodeOptions decodes a resolved option record into out (a pointer to a
// struct with mapstructure tags) and runs its validate tags. Input is weakly
// typed: a single string fills a []string, "5s" fills a time.Duration.
func DecodeOptions(opts map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
		),
	})
	if err != nil {
		return fmt.Errorf("creating option decoder: %w", err)
	}
	if err := dec.Decode(opts); err != nil {
		return fmt.Errorf("decoding options: %w", err)
	}

	if err := optionValidator().Struct(out); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, describeFieldError(fe))
			}
			return fmt.Errorf("invalid options: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("validating options: %w", err)
	}
	return nil
}

func describeFieldError(fe validator.FieldError) string {
	name := fe.Field()
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("option %s is required", name)
	case "oneof":
		return fmt.Sprintf("option %s must be one of [%s]", name, fe.Param())
	case "min":
		return fmt.Sprintf("option %s must be at least %s", name, fe.Param())
	case "max":
		return fmt.Sprintf("option %s must be at most %s", name, fe.Param())
	case "url":
		return fmt.Sprintf("option %s must be a URL", name)
	default:
		return fmt.Sprintf("option %s failed %q check", name, fe.Tag())
	}
}
