package rewrite

// Attribute names.
const (
	attrLogoutData = "data-ms-logout"
	attrLogout     = "ms-logout"
	attrForgot     = "ms-forgot"
	attrLogin      = "ms-login"
	attrSignup     = "ms-signup"
	attrPlan       = "data-ms-plan"
	attrMembership = "data-ms-membership"

	attrModal       = "data-ms-modal"
	attrModalLegacy = "ms-modal"
	attrAction      = "data-ms-action"
	attrContent     = "data-ms-content"
	attrMember      = "data-ms-member"
	attrRewrite     = "data-ms-rewrite"
)

// Attribute values.
const (
	modalLogin          = "login"
	modalSignup         = "signup"
	modalProfile        = "profile"
	modalForgotPassword = "forgot-password"

	actionLogout        = "logout"
	actionLoginRedirect = "login-redirect"

	memberPageValue  = "member-page"
	memberSignupDate = "signup-date.DateTimeFormat()"
	membershipPrefix = "membership."
)

// Legacy hash URLs.
const (
	hrefPasswordReset      = "#/ms/password-reset"
	hrefLogin              = "#/ms/login"
	hrefProfile            = "#/ms/profile"
	hrefMembershipRedirect = "#/ms/membership/redirect"
	hrefMemberPageDefault  = "#/ms/member-page/default"
	hrefLogout             = "#/ms/logout"

	signupMarker  = "#/ms/signup/"
	contentMarker = "#/ms/content/"
)
