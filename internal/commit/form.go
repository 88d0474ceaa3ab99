package commit

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	sowerrors "github.com/conneroisu/sowing/internal/errors"
)

// Field is one named control of a form.
type Field struct {
	Name  string
	Type  string
	Value string
}

// Hidden reports whether the field is an <input type="hidden">.
func (f *Field) Hidden() bool {
	return strings.EqualFold(f.Type, "hidden")
}

// Form is the save form of the host page.
type Form interface {
	// Field returns the first control named name.
	Field(name string) (*Field, bool)
	// AddHidden appends a hidden control and returns it.
	AddHidden(name string) *Field
	// Submit performs the form's standard submission and returns the
	// navigation target.
	Submit(ctx context.Context) (string, error)
}

// HTTPForm submits its fields as application/x-www-form-urlencoded, the
// way a browser submits a plain form. Redirects are not followed; the
// Location header is the submission result.
type HTTPForm struct {
	Action string
	Method string
	fields []*Field
	client *http.Client
}

// NewHTTPForm creates a form posting to action with method (POST when
// empty). The client is copied so its redirect policy can be replaced.
func NewHTTPForm(action, method string, client *http.Client, fields ...Field) *HTTPForm {
	if method == "" {
		method = http.MethodPost
	}
	var c http.Client
	if client != nil {
		c = *client
	}
	c.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}

	f := &HTTPForm{
		Action: action,
		Method: strings.ToUpper(method),
		client: &c,
	}
	for _, field := range fields {
		field := field
		f.fields = append(f.fields, &field)
	}
	return f
}

func (f *HTTPForm) Field(name string) (*Field, bool) {
	for _, field := range f.fields {
		if field.Name == name {
			return field, true
		}
	}
	return nil, false
}

func (f *HTTPForm) AddHidden(name string) *Field {
	field := &Field{Name: name, Type: "hidden"}
	f.fields = append(f.fields, field)
	return field
}

// Fields returns a copy of the controls in document order.
func (f *HTTPForm) Fields() []Field {
	out := make([]Field, len(f.fields))
	for i, field := range f.fields {
		out[i] = *field
	}
	return out
}

// Values returns the encoded form data set.
func (f *HTTPForm) Values() url.Values {
	values := url.Values{}
	for _, field := range f.fields {
		if field.Name == "" {
			continue
		}
		values.Add(field.Name, field.Value)
	}
	return values
}

func (f *HTTPForm) Submit(ctx context.Context) (string, error) {
	values := f.Values()

	var req *http.Request
	var err error
	if f.Method == http.MethodGet {
		target := f.Action
		if strings.Contains(target, "?") {
			target += "&" + values.Encode()
		} else {
			target += "?" + values.Encode()
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	} else {
		req, err = http.NewRequestWithContext(ctx, f.Method, f.Action, strings.NewReader(values.Encode()))
		if req != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return "", fmt.Errorf("build submission: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return "", sowerrors.NewNetworkError(sowerrors.ErrCodeSubmitFailed, "could not submit form", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 300 && resp.StatusCode < 400:
		location, err := resp.Location()
		if err != nil {
			return "", fmt.Errorf("redirect without location: %w", err)
		}
		return location.String(), nil
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return req.URL.String(), nil
	default:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", sowerrors.NewNetworkError(sowerrors.ErrCodeSubmitFailed,
			fmt.Sprintf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), nil).
			WithContext("status", resp.StatusCode)
	}
}
