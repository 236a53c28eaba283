package gallery

import (
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"golang.org/x/text/unicode/norm"
)

// identityName carries the rules for a name that doubles as a directory name.
// The max tag mirrors constants.MaxIdentityNameLength.
type identityName struct {
	Name string `validate:"required,max=128,segment"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	if err := v.RegisterValidation("segment", validSegment); err != nil {
		panic(err)
	}
	return v
}

// validSegment accepts names that stay a single entry directly under the store root.
func validSegment(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	if !utf8.ValidString(s) {
		return false
	}
	if s == "." || s == ".." || strings.HasPrefix(s, ".") {
		return false
	}
	if strings.TrimSpace(s) != s {
		return false
	}
	for _, r := range s {
		if r == '/' || r == '\\' || r == 0 || unicode.IsControl(r) {
			return false
		}
	}
	return true
}

// NormalizeName returns the NFC form of name, or an *InvalidNameError when
// the name cannot be used as an identity directory.
func NormalizeName(name string) (string, error) {
	if !utf8.ValidString(name) {
		return "", &InvalidNameError{Name: name, Reason: "name must be valid UTF-8"}
	}
	n := norm.NFC.String(name)

	err := validate.Struct(identityName{Name: n})
	if err == nil {
		return n, nil
	}

	reason := "invalid name"
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		switch verrs[0].Tag() {
		case "required":
			reason = "name is required"
		case "max":
			reason = "name is longer than 128 characters"
		case "segment":
			reason = "name must be a single path segment"
		}
	}
	return "", &InvalidNameError{Name: name, Reason: reason}
}
