// Package resource implements client-side proxies for Exact Online entity
// collections: an attribute map guarded by a per-type allow-list, query URI
// construction, and find/save/delete operations over a pluggable transport.
package resource

import (
	"slices"
	"sort"
)

// defaultIDAttribute is the canonical name of the key attribute.
const defaultIDAttribute = "id"

// Definition configures one concrete resource type. Attribute names may be
// given in any casing ("Name", "AccountName", "account_name"); they are
// compared in canonical form.
type Definition struct {
	// Name is the registry key, e.g. "accounts".
	Name string
	// BasePath is relative to the division root ("crm/Accounts"). A leading
	// slash marks an endpoint outside any division ("/current/Me").
	BasePath string
	// Mandatory attributes must be present for Save.
	Mandatory []string
	// Optional attributes may be set but are not required.
	Optional []string
	// Unsubmittable attributes are never sent in a POST or PUT body.
	Unsubmittable []string
	// IDAttribute is the key attribute; "id" when empty.
	IDAttribute string
}

// Valid reports whether name is in the allow-list (mandatory ∪ optional).
func (d *Definition) Valid(name string) bool {
	name = NormalizeKey(name)

	return containsKey(d.Mandatory, name) || containsKey(d.Optional, name)
}

// Submittable reports whether name may be sent to the API.
func (d *Definition) Submittable(name string) bool {
	name = NormalizeKey(name)

	return d.Valid(name) && !containsKey(d.Unsubmittable, name)
}

// MandatoryAttributes returns the canonical mandatory names in declaration
// order.
func (d *Definition) MandatoryAttributes() []string {
	return normalizeKeys(nil, d.Mandatory)
}

// ValidAttributes returns the canonical mandatory ∪ optional names in
// declaration order.
func (d *Definition) ValidAttributes() []string {
	out := make([]string, 0, len(d.Mandatory)+len(d.Optional))
	out = normalizeKeys(out, d.Mandatory)

	return normalizeKeys(out, d.Optional)
}

// KeyField returns the wire name of the key property, e.g. "ID" or "InvoiceID".
func (d *Definition) KeyField() string {
	return WireName(d.idAttribute())
}

func (d *Definition) idAttribute() string {
	if d.IDAttribute == "" {
		return defaultIDAttribute
	}

	return NormalizeKey(d.IDAttribute)
}

// containsKey reports whether canonical key matches any of names.
func containsKey(names []string, key string) bool {
	return slices.ContainsFunc(names, func(n string) bool { return NormalizeKey(n) == key })
}

// normalizeKeys appends the canonical form of names to out, skipping
// duplicates.
func normalizeKeys(out, names []string) []string {
	for _, name := range names {
		if key := NormalizeKey(name); !slices.Contains(out, key) {
			out = append(out, key)
		}
	}

	return out
}

// Common read-only bookkeeping fields.
var bookkeeping = []string{"created", "creator", "modified", "modifier", "division"}

func withBookkeeping(attrs ...string) []string {
	return append(attrs, bookkeeping...)
}

// registry holds the built-in resource types.
var registry = map[string]*Definition{
	"accounts": {
		Name:      "accounts",
		BasePath:  "crm/Accounts",
		Mandatory: []string{"name"},
		Optional: withBookkeeping("id", "code", "search_code", "status", "email", "phone", "website",
			"address_line1", "postcode", "city", "country", "vat_number", "chamber_of_commerce",
			"is_supplier", "is_sales", "blocked", "remarks"),
		Unsubmittable: withBookkeeping("id"),
	},
	"contacts": {
		Name:      "contacts",
		BasePath:  "crm/Contacts",
		Mandatory: []string{"account", "first_name", "last_name"},
		Optional: withBookkeeping("id", "initials", "email", "phone", "mobile", "job_title_description",
			"birth_date", "gender", "is_main_contact", "notes"),
		Unsubmittable: withBookkeeping("id"),
	},
	"items": {
		Name:      "items",
		BasePath:  "logistics/Items",
		Mandatory: []string{"code", "description"},
		Optional: withBookkeeping("id", "barcode", "unit", "item_group", "cost_price_standard",
			"is_sales_item", "is_purchase_item", "is_stock_item", "gl_revenue", "gl_costs", "notes",
			"picture_url"),
		Unsubmittable: withBookkeeping("id", "picture_url"),
	},
	"gl_accounts": {
		Name:          "gl_accounts",
		BasePath:      "financial/GLAccounts",
		Mandatory:     []string{"code", "description"},
		Optional:      withBookkeeping("id", "type", "balance_side", "balance_type", "vat_code", "blocked"),
		Unsubmittable: withBookkeeping("id"),
	},
	"journals": {
		Name:          "journals",
		BasePath:      "financial/Journals",
		Mandatory:     []string{"code", "description", "type"},
		Optional:      withBookkeeping("id", "gl_account", "bank", "currency"),
		Unsubmittable: withBookkeeping("id"),
	},
	"sales_invoices": {
		Name:      "sales_invoices",
		BasePath:  "salesinvoice/SalesInvoices",
		Mandatory: []string{"ordered_by", "journal"},
		Optional: withBookkeeping("invoice_id", "invoice_number", "invoice_to", "invoice_date",
			"description", "currency", "your_ref", "payment_condition", "sales_invoice_lines",
			"status", "amount_dc"),
		Unsubmittable: withBookkeeping("invoice_id", "invoice_number", "status", "amount_dc"),
		IDAttribute:   "invoice_id",
	},
	"sales_orders": {
		Name:      "sales_orders",
		BasePath:  "salesorder/SalesOrders",
		Mandatory: []string{"ordered_by"},
		Optional: withBookkeeping("order_id", "order_number", "order_date", "delivery_date",
			"description", "currency", "your_ref", "sales_order_lines", "status", "amount_dc"),
		Unsubmittable: withBookkeeping("order_id", "order_number", "status", "amount_dc"),
		IDAttribute:   "order_id",
	},
	"divisions": {
		Name:     "divisions",
		BasePath: "system/Divisions",
		Optional: withBookkeeping("code", "description", "customer", "country", "currency", "hid",
			"main", "blocking_status"),
		Unsubmittable: withBookkeeping("code", "hid", "blocking_status"),
		IDAttribute:   "code",
	},
	"me": {
		Name:     "me",
		BasePath: "/current/Me",
		Optional: []string{"user_id", "user_name", "full_name", "email", "current_division",
			"division_customer", "language_code"},
		Unsubmittable: []string{"user_id", "user_name", "full_name", "email", "current_division",
			"division_customer", "language_code"},
		IDAttribute: "user_id",
	},
}

// Lookup returns the built-in definition registered under name.
func Lookup(name string) (*Definition, bool) {
	d, ok := registry[NormalizeKey(name)]

	return d, ok
}

// Definitions returns the built-in definitions sorted by name.
func Definitions() []*Definition {
	defs := make([]*Definition, 0, len(registry))
	for _, d := range registry {
		defs = append(defs, d)
	}

	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })

	return defs
}
