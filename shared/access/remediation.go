package access

import (
	"net/http"

	"github.com/pavitra93/thinkats-access/shared/config"
)

// Remediation is where a denied caller is sent and the status an API client sees
type Remediation struct {
	Status   int    `json:"-"`
	Redirect string `json:"redirect"`
}

// Remediations maps each deny reason to exactly one screen
type Remediations struct {
	Login        string
	Provision    string
	TenantPicker string
	Elevation    string
	AccessDenied string
	Home         string
}

// NewRemediations reads the screen URLs from cfg
func NewRemediations(cfg *config.AccessConfig) Remediations {
	return Remediations{
		Login:        cfg.LoginURL,
		Provision:    cfg.ProvisionURL,
		TenantPicker: cfg.TenantPickerURL,
		Elevation:    cfg.ElevationURL,
		AccessDenied: cfg.AccessDeniedURL,
		Home:         "https://" + cfg.RootDomain + "/",
	}
}

// For returns the remediation of reason. Unknown reasons go to the access-denied page.
func (r Remediations) For(reason Reason) Remediation {
	switch reason {
	case ReasonUnauthenticated:
		return Remediation{Status: http.StatusUnauthorized, Redirect: r.Login}
	case ReasonNotProvisioned:
		return Remediation{Status: http.StatusForbidden, Redirect: r.Provision}
	case ReasonNoTenant:
		return Remediation{Status: http.StatusConflict, Redirect: r.TenantPicker}
	case ReasonElevationRequired:
		return Remediation{Status: http.StatusForbidden, Redirect: r.Elevation}
	case ReasonTenantNotFound:
		return Remediation{Status: http.StatusNotFound, Redirect: r.Home}
	default:
		return Remediation{Status: http.StatusForbidden, Redirect: r.AccessDenied}
	}
}
