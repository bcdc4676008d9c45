package zoho

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/teranos/zbulk/errors"
	"github.com/teranos/zbulk/profile"
	"github.com/teranos/zbulk/pulse/bulk"
)

// Encoding selects how an item is sent
type Encoding int

const (
	EncodeJSON       Encoding = iota // Item as the JSON body
	EncodeFormFields                 // Each field as a form value
	EncodeFormJSON                   // Item as JSON inside one form field (FormField)
)

// RecordHandler is a table-driven handler: one remote call per item, built
// from a method, a path template and the item's fields.
//
// Path placeholders such as {portal} or {form} are filled from the item,
// then the job params, then the profile params; {org_id} falls back to the
// profile's organisation id. Fields consumed by the path are not sent in the
// body.
type RecordHandler struct {
	JobType     string
	Product     string
	Method      string
	Path        string
	Required    []string // Item fields that must be non-empty
	Identifier  string   // Default identifier field
	Wrapper     string   // Body key wrapping the record, e.g. "data"
	WrapList    bool     // Wrap the record in a one-element list
	Encoding    Encoding
	FormField   string // For EncodeFormJSON, e.g. "inputData"
	Summary     string
	IDFields    []string // Response fields naming the created record, in preference order
	ExtraParams []string // Job params copied into the query string when present
}

// boundHandler is a RecordHandler with the collaborators it calls
type boundHandler struct {
	spec     RecordHandler
	product  Product
	client   *Client
	profiles profile.Store
}

var placeholderRe = regexp.MustCompile(`\{([a-zA-Z0-9_]+)\}`)

// Bind attaches a client and profile store, returning a bulk.Handler
func (h RecordHandler) Bind(client *Client, profiles profile.Store) (bulk.Handler, error) {
	product, err := LookupProduct(h.Product)
	if err != nil {
		return nil, errors.Wrapf(err, "handler %s", h.JobType)
	}
	if client == nil || profiles == nil {
		return nil, errors.Newf("handler %s needs a client and a profile store", h.JobType)
	}
	return &boundHandler{spec: h, product: product, client: client, profiles: profiles}, nil
}

func (h *boundHandler) Name() string            { return h.spec.JobType }
func (h *boundHandler) IdentifierField() string { return h.spec.Identifier }

func (h *boundHandler) Description() string {
	endpoint := h.method() + " " + h.product.BasePath + h.spec.Path
	if h.spec.Summary == "" {
		return h.product.Title + ": " + endpoint
	}
	return h.spec.Summary + " (" + endpoint + ")"
}

func (h *boundHandler) method() string {
	if h.spec.Method == "" {
		return "POST"
	}
	return h.spec.Method
}

// NewProcessor resolves the profile once per job. A missing or unusable
// profile is a setup error.
func (h *boundHandler) NewProcessor(_ context.Context, req bulk.ProcessorRequest) (bulk.Processor, error) {
	p, err := h.profiles.Get(req.Key.ProfileName)
	if err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if _, err := h.product.BaseURL(p.DataCenter); err != nil {
		return nil, err
	}

	creds := Credentials{
		Profile:     p.Name,
		AccessToken: p.Token(),
		OrgID:       p.OrgID,
		DataCenter:  p.DataCenter,
	}

	query := url.Values{}
	for _, name := range h.spec.ExtraParams {
		if v, ok := req.Params[name]; ok && v != nil {
			query.Set(name, fmt.Sprint(v))
		}
	}

	proc := bulk.ProcessorFunc(func(ctx context.Context, item bulk.Item) bulk.Outcome {
		return h.process(ctx, item, req.Params, p, creds, query)
	})
	return bulk.Chain(proc, bulk.WithRateLimit(h.client.Limiter(p.Name))), nil
}

func (h *boundHandler) process(ctx context.Context, item bulk.Item, params map[string]any, p profile.Profile, creds Credentials, query url.Values) bulk.Outcome {
	for _, field := range h.spec.Required {
		if isBlank(item.Data[field]) {
			return bulk.Failed(item, bulk.FailureValidation, fmt.Sprintf("missing required field %q", field))
		}
	}

	path, used, err := expandPath(h.spec.Path, item.Data, params, p)
	if err != nil {
		return bulk.Failed(item, bulk.FailureValidation, err.Error())
	}

	req := Request{Product: h.product, Method: h.method(), Path: path, Query: query}
	record := bodyFields(item.Data, used)
	if err := h.encode(&req, record); err != nil {
		return bulk.Failed(item, bulk.FailureValidation, err.Error())
	}

	resp, err := h.client.Do(ctx, req, creds)
	var raw json.RawMessage
	if resp != nil && json.Valid(resp.Body) {
		raw = resp.Body
	}
	if err != nil {
		out := bulk.FailedWithError(item, err)
		out.RawResponse = raw
		return out
	}

	details := resp.Message
	if id := extractID(resp.Body, h.spec.IDFields); id != "" {
		details = strings.TrimSpace(details + " (id " + id + ")")
	}
	if details == "" {
		details = "ok"
	}
	return bulk.Succeeded(item, details, raw)
}

func (h *boundHandler) encode(req *Request, record map[string]any) error {
	switch h.spec.Encoding {
	case EncodeFormFields:
		form := url.Values{}
		for k, v := range record {
			form.Set(k, fmt.Sprint(v))
		}
		req.Form = form
	case EncodeFormJSON:
		data, err := json.Marshal(record)
		if err != nil {
			return errors.Wrap(err, "failed to encode record")
		}
		req.Form = url.Values{h.spec.FormField: []string{string(data)}}
	default:
		var body any = record
		if h.spec.WrapList {
			body = []any{record}
		}
		if h.spec.Wrapper != "" {
			body = map[string]any{h.spec.Wrapper: body}
		}
		req.Body = body
	}
	return nil
}

// expandPath fills {placeholders} and reports which item fields it used
func expandPath(tmpl string, data, params map[string]any, p profile.Profile) (string, map[string]bool, error) {
	used := make(map[string]bool)
	var missing []string

	path := placeholderRe.ReplaceAllStringFunc(tmpl, func(m string) string {
		name := m[1 : len(m)-1]
		if v, ok := data[name]; ok && !isBlank(v) {
			used[name] = true
			return url.PathEscape(fmt.Sprint(v))
		}
		if v, ok := params[name]; ok && !isBlank(v) {
			return url.PathEscape(fmt.Sprint(v))
		}
		if v := p.Param(name); v != "" {
			return url.PathEscape(v)
		}
		if name == "org_id" && p.OrgID != "" {
			return url.PathEscape(p.OrgID)
		}
		missing = append(missing, name)
		return m
	})

	if len(missing) > 0 {
		return "", nil, errors.Newf("no value for path parameter %s", strings.Join(missing, ", "))
	}
	return path, used, nil
}

// bodyFields drops path-consumed fields and fields starting with "_", which
// callers use for bookkeeping columns
func bodyFields(data map[string]any, used map[string]bool) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		if used[k] || strings.HasPrefix(k, "_") {
			continue
		}
		out[k] = v
	}
	return out
}

func isBlank(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) == ""
	}
	return false
}

// extractID finds the created record's id: the preferred fields first, at the
// top level or one object deep, then any "id"
func extractID(body json.RawMessage, preferred []string) string {
	var top map[string]any
	if err := json.Unmarshal(body, &top); err != nil {
		return ""
	}

	candidates := append(append([]string(nil), preferred...), "id")
	for _, field := range candidates {
		if v := findField(top, field); v != "" {
			return v
		}
	}
	return ""
}

func findField(obj map[string]any, field string) string {
	if v, ok := obj[field]; ok {
		if s := scalar(v); s != "" {
			return s
		}
	}
	for _, v := range obj {
		switch nested := v.(type) {
		case map[string]any:
			if s := scalar(nested[field]); s != "" {
				return s
			}
		case []any:
			if len(nested) > 0 {
				if first, ok := nested[0].(map[string]any); ok {
					if s := scalar(first[field]); s != "" {
						return s
					}
				}
			}
		}
	}
	return ""
}

func scalar(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return fmt.Sprintf("%.0f", t)
	default:
		return ""
	}
}
