package oncology

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/url"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/quantnex/quantnex/internal/platform/apperr"
)

type fieldKind int

const (
	kindString fieldKind = iota
	kindNumber
	kindBool
	kindList
	kindTime
)

var timeType = reflect.TypeOf(time.Time{})

// fieldKinds maps the JSON names of t's fields to how their raw input is
// interpreted.
func fieldKinds(t reflect.Type) map[string]fieldKind {
	out := make(map[string]fieldKind, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			continue
		}
		ft := f.Type
		if ft.Kind() == reflect.Ptr {
			ft = ft.Elem()
		}
		switch {
		case ft == timeType:
			out[name] = kindTime
		case ft.Kind() == reflect.Slice:
			out[name] = kindList
		case ft.Kind() == reflect.Bool:
			out[name] = kindBool
		case ft.Kind() >= reflect.Int && ft.Kind() <= reflect.Float64:
			out[name] = kindNumber
		default:
			out[name] = kindString
		}
	}
	return out
}

// decodeRequest fills dst, a pointer to a request struct, from a JSON or
// form body and validates it. List fields may hold a JSON array or a string
// containing one; form values are coerced to the field's type. Every decode
// problem is reported as a field error before any write happens.
func decodeRequest(c echo.Context, dst interface{}) error {
	kinds := fieldKinds(reflect.TypeOf(dst).Elem())

	var (
		raw  map[string]json.RawMessage
		errs []apperr.FieldError
	)
	ct := c.Request().Header.Get(echo.HeaderContentType)
	if strings.HasPrefix(ct, echo.MIMEApplicationForm) || strings.HasPrefix(ct, echo.MIMEMultipartForm) {
		form, err := c.FormParams()
		if err != nil {
			return apperr.BadRequest("malformed form body")
		}
		raw, errs = fromForm(form, kinds)
	} else {
		if err := json.NewDecoder(c.Request().Body).Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
			return apperr.BadRequest("malformed request body")
		}
		errs = normalizeJSON(raw, kinds)
	}
	if len(errs) > 0 {
		return apperr.Validation(errs...)
	}

	buf, err := json.Marshal(raw)
	if err != nil {
		return apperr.BadRequest("malformed request body")
	}
	if err := json.Unmarshal(buf, dst); err != nil {
		var ute *json.UnmarshalTypeError
		if errors.As(err, &ute) && ute.Field != "" {
			return apperr.Validation(apperr.FieldError{Field: ute.Field, Message: "has the wrong type"})
		}
		return apperr.BadRequest("malformed request body")
	}
	return c.Validate(dst)
}

func fromForm(form url.Values, kinds map[string]fieldKind) (map[string]json.RawMessage, []apperr.FieldError) {
	raw := make(map[string]json.RawMessage)
	var errs []apperr.FieldError
	for name, kind := range kinds {
		v := strings.TrimSpace(form.Get(name))
		if v == "" {
			continue
		}
		switch kind {
		case kindNumber:
			if _, err := strconv.ParseFloat(v, 64); err != nil || !json.Valid([]byte(v)) {
				errs = append(errs, apperr.FieldError{Field: name, Message: "must be a number"})
				continue
			}
			raw[name] = json.RawMessage(v)
		case kindBool:
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, apperr.FieldError{Field: name, Message: "must be true or false"})
				continue
			}
			raw[name] = json.RawMessage(strconv.FormatBool(b))
		case kindList:
			if !isJSONArray(v) {
				errs = append(errs, apperr.FieldError{Field: name, Message: "must be a JSON array"})
				continue
			}
			raw[name] = json.RawMessage(v)
		case kindTime:
			if _, err := time.Parse(time.RFC3339, v); err != nil {
				errs = append(errs, apperr.FieldError{Field: name, Message: "must be an RFC 3339 timestamp"})
				continue
			}
			raw[name] = quote(v)
		default:
			raw[name] = quote(v)
		}
	}
	return raw, errs
}

// normalizeJSON unwraps list fields sent as JSON-encoded strings and checks
// timestamps, in place.
func normalizeJSON(raw map[string]json.RawMessage, kinds map[string]fieldKind) []apperr.FieldError {
	var errs []apperr.FieldError
	for name, v := range raw {
		kind, ok := kinds[name]
		if !ok || !isJSONString(v) {
			continue
		}
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			continue
		}
		switch kind {
		case kindList:
			s = strings.TrimSpace(s)
			if s == "" {
				delete(raw, name)
				continue
			}
			if !isJSONArray(s) {
				errs = append(errs, apperr.FieldError{Field: name, Message: "must be a JSON array"})
				continue
			}
			raw[name] = json.RawMessage(s)
		case kindTime:
			if _, err := time.Parse(time.RFC3339, s); err != nil {
				errs = append(errs, apperr.FieldError{Field: name, Message: "must be an RFC 3339 timestamp"})
			}
		}
	}
	return errs
}

func isJSONString(v json.RawMessage) bool {
	v = bytes.TrimSpace(v)
	return len(v) > 0 && v[0] == '"'
}

func isJSONArray(s string) bool {
	s = strings.TrimSpace(s)
	return strings.HasPrefix(s, "[") && json.Valid([]byte(s))
}

func quote(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}
