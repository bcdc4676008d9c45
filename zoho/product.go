// Package zoho calls Zoho product REST APIs and supplies the bulk job
// handlers for them.
//
// ARCHITECTURE:
// - Product describes where an API lives in each data center
// - Client performs one authenticated call and classifies the answer
// - RecordHandler turns a table entry (method, path, required fields) into a
//   bulk.Handler whose processor makes one call per item
package zoho

import (
	"sort"
	"strings"

	"github.com/teranos/zbulk/errors"
)

// DataCenters maps a data center code to its domain suffix
var DataCenters = map[string]string{
	"com":    "com",
	"eu":     "eu",
	"in":     "in",
	"com.au": "com.au",
	"jp":     "jp",
	"ca":     "ca",
	"com.cn": "com.cn",
	"sa":     "sa",
}

// DefaultDataCenter is used when neither profile nor config names one
const DefaultDataCenter = "com"

// Product describes one Zoho product API
type Product struct {
	Name  string // Short name used in job types, e.g. "inventory"
	Title string

	// Host is the API host with {dc} standing for the domain suffix
	Host     string
	BasePath string

	// Where the organisation id goes, if the product wants one
	OrgQuery  string
	OrgHeader string
}

// BaseURL returns scheme, host and base path for a data center
func (p Product) BaseURL(dataCenter string) (string, error) {
	if dataCenter == "" {
		dataCenter = DefaultDataCenter
	}
	suffix, ok := DataCenters[dataCenter]
	if !ok {
		return "", errors.WithHint(
			errors.NewInvalidRequestError("unknown data center %q", dataCenter),
			"use one of: "+strings.Join(DataCenterCodes(), ", "))
	}
	return "https://" + strings.ReplaceAll(p.Host, "{dc}", suffix) + p.BasePath, nil
}

// Products is the catalogue of supported products
var Products = map[string]Product{
	"inventory": {Name: "inventory", Title: "Zoho Inventory", Host: "www.zohoapis.{dc}", BasePath: "/inventory/v1", OrgQuery: "organization_id"},
	"books":     {Name: "books", Title: "Zoho Books", Host: "www.zohoapis.{dc}", BasePath: "/books/v3", OrgQuery: "organization_id"},
	"billing":   {Name: "billing", Title: "Zoho Billing", Host: "www.zohoapis.{dc}", BasePath: "/billing/v1", OrgHeader: "X-com-zoho-subscriptions-organizationid"},
	"desk":      {Name: "desk", Title: "Zoho Desk", Host: "desk.zoho.{dc}", BasePath: "/api/v1", OrgHeader: "orgId"},
	"projects":  {Name: "projects", Title: "Zoho Projects", Host: "projectsapi.zoho.{dc}", BasePath: "/api/v3"},
	"people":    {Name: "people", Title: "Zoho People", Host: "people.zoho.{dc}", BasePath: "/people/api"},
	"creator":   {Name: "creator", Title: "Zoho Creator", Host: "www.zohoapis.{dc}", BasePath: "/creator/v2.1"},
	"qntrl":     {Name: "qntrl", Title: "Qntrl", Host: "coreapi.qntrl.{dc}", BasePath: "/blueprint/api"},
	"bookings":  {Name: "bookings", Title: "Zoho Bookings", Host: "www.zohoapis.{dc}", BasePath: "/bookings/v1/json"},
	"catalyst":  {Name: "catalyst", Title: "Zoho Catalyst", Host: "api.catalyst.zoho.{dc}", BasePath: "/baas/v1"},
	"meeting":   {Name: "meeting", Title: "Zoho Meeting", Host: "meeting.zoho.{dc}", BasePath: "/api/v2"},
	"fsm":       {Name: "fsm", Title: "Zoho FSM", Host: "fsm.zoho.{dc}", BasePath: "/fsm/v1"},
}

// LookupProduct returns the product by short name
func LookupProduct(name string) (Product, error) {
	p, ok := Products[name]
	if !ok {
		return Product{}, errors.NewNotFoundError("product %q", name)
	}
	return p, nil
}

// DataCenterCodes returns the known data center codes, sorted
func DataCenterCodes() []string {
	codes := make([]string, 0, len(DataCenters))
	for code := range DataCenters {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// AllowedHostSuffixes lists every domain a product API may live on, for the
// outbound client's allow-list
func AllowedHostSuffixes() []string {
	seen := make(map[string]bool)
	var out []string
	for _, suffix := range DataCenters {
		for _, base := range []string{".zohoapis.", ".zoho.", ".qntrl."} {
			s := base + suffix
			if !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	}
	sort.Strings(out)
	return out
}
