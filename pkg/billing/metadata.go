package billing

import (
	"encoding/json"
	"strings"
)

// Metadata keys read from provider objects. Both camelCase and snake_case
// spellings are accepted because checkout flows set either.
const (
	MetaUserID         = "userId"
	MetaAccountType    = "accountType"
	MetaCompanyID      = "companyId"
	MetaSubscriptionID = "subscriptionId"
	MetaItems          = "items"
	MetaListingID      = "listingId"
	MetaFeature        = "feature"

	AccountTypeCompany = "company"
	ItemTypeListing    = "listing"
)

// Metadata is the string map attached to provider objects.
type Metadata map[string]string

// Get returns the first non-empty value for key, trying its snake_case form too.
func (m Metadata) Get(key string) string {
	if m == nil {
		return ""
	}
	if v := strings.TrimSpace(m[key]); v != "" {
		return v
	}
	return strings.TrimSpace(m[snakeCase(key)])
}

// OwnerAccountID is the explicit owner set by the checkout flow.
func (m Metadata) OwnerAccountID() string { return m.Get(MetaUserID) }

// CompanyID returns the company id attached to the object.
func (m Metadata) CompanyID() string { return m.Get(MetaCompanyID) }

// SubscriptionID returns the subscription id attached to a payment.
func (m Metadata) SubscriptionID() string { return m.Get(MetaSubscriptionID) }

// IsCompany reports whether the object belongs to a company account.
func (m Metadata) IsCompany() bool {
	return strings.EqualFold(m.Get(MetaAccountType), AccountTypeCompany) && m.CompanyID() != ""
}

// Item is one purchased line described in metadata.
type Item struct {
	Type    string `json:"type"`
	ID      string `json:"id"`
	Feature string `json:"feature,omitempty"`
}

// ListingItems returns the listing purchases described by the metadata.
// "items" is a JSON array; a single listingId/feature pair is also accepted.
// Malformed item lists yield no items.
func (m Metadata) ListingItems() []Item {
	var items []Item
	if raw := m.Get(MetaItems); raw != "" {
		var parsed []Item
		if err := json.Unmarshal([]byte(raw), &parsed); err == nil {
			for _, it := range parsed {
				if strings.EqualFold(it.Type, ItemTypeListing) && it.ID != "" {
					items = append(items, it)
				}
			}
		}
	}
	if len(items) == 0 {
		if id := m.Get(MetaListingID); id != "" {
			items = append(items, Item{Type: ItemTypeListing, ID: id, Feature: m.Get(MetaFeature)})
		}
	}
	return items
}

// Clone returns a copy of the metadata.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Equal reports whether both maps hold the same pairs.
func (m Metadata) Equal(other Metadata) bool {
	if len(m) != len(other) {
		return false
	}
	for k, v := range m {
		if ov, ok := other[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

func snakeCase(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r + ('a' - 'A'))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
