package bridge

import "context"

// Capability names of the v1 API object.
const (
	CapOnReady          = "onReady"
	CapGetToken         = "getToken"
	CapReload           = "reload"
	CapLogout           = "logout"
	CapSelectMembership = "selectMembership"
	CapGetMetaData      = "getMetaData"
	CapUpdateMetaData   = "updateMetaData"
)

// Legacy is the statically enumerated v1 API. A nil field is a capability
// the bridge does not offer.
type Legacy struct {
	OnReady          func(ctx context.Context) ReadyPayload
	GetToken         func() string
	Reload           func()
	Logout           func(ctx context.Context) error
	SelectMembership func()
	GetMetaData      func(ctx context.Context) (map[string]any, error)
	UpdateMetaData   func(ctx context.Context, data map[string]any) (map[string]any, error)
}

// Legacy returns the v1 capability set backed by a.
func (a *API) Legacy() Legacy {
	return Legacy{
		OnReady:          a.OnReady,
		GetToken:         a.GetToken,
		Reload:           a.Reload,
		Logout:           a.Logout,
		SelectMembership: a.SelectMembership,
		GetMetaData:      a.MetaData,
		UpdateMetaData:   a.UpdateMetaData,
	}
}

// Has reports whether name is an offered capability.
func (l Legacy) Has(name string) bool {
	switch name {
	case CapOnReady:
		return l.OnReady != nil
	case CapGetToken:
		return l.GetToken != nil
	case CapReload:
		return l.Reload != nil
	case CapLogout:
		return l.Logout != nil
	case CapSelectMembership:
		return l.SelectMembership != nil
	case CapGetMetaData:
		return l.GetMetaData != nil
	case CapUpdateMetaData:
		return l.UpdateMetaData != nil
	}
	return false
}

// Names lists the offered capabilities.
func (l Legacy) Names() []string {
	var out []string
	for _, n := range []string{CapOnReady, CapGetToken, CapReload, CapLogout, CapSelectMembership, CapGetMetaData, CapUpdateMetaData} {
		if l.Has(n) {
			out = append(out, n)
		}
	}
	return out
}
