// Package planid maps legacy (v1) membership identifiers to their v2
// counterparts and decides which v2 attribute carries a given identifier.
package planid

import "strings"

// v2 attributes that carry a plan or price identifier.
const (
	AttrPriceUpdate = "data-ms-price:update"
	AttrPlanAdd     = "data-ms-plan:add"
)

const (
	pricePrefix = "prc_"
	planPrefix  = "pln_"
)

// Classify returns the v2 attribute that must carry id. ok is false when
// id follows neither the price nor the plan prefix convention.
func Classify(id string) (attr string, ok bool) {
	switch {
	case strings.HasPrefix(id, pricePrefix):
		return AttrPriceUpdate, true
	case strings.HasPrefix(id, planPrefix):
		return AttrPlanAdd, true
	}
	return "", false
}
