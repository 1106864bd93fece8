package oauth

import (
	"fmt"
	"html"
)

// consentPageTemplate is a minimal, dependency-free consent page. The
// corpus has no user accounts or branding to speak of, so this stays a
// single inline template rather than pulling in a templating engine or
// static asset pipeline — there is exactly one form on exactly one
// page.
const consentPageTemplate = `<!DOCTYPE html>
<html>
<head><title>Authorize %s</title></head>
<body>
<h1>Authorize access</h1>
<p><strong>%s</strong> is requesting access to the corpus (scope: <code>%s</code>).</p>
<form method="POST" action="/oauth/consent">
  <input type="hidden" name="consent_id" value="%s">
  <button type="submit" name="decision" value="approve">Approve</button>
  <button type="submit" name="decision" value="deny">Deny</button>
</form>
</body>
</html>
`

// RenderConsentPage returns the HTML body for a pending consent
// request. All dynamic values are HTML-escaped before interpolation.
func RenderConsentPage(pc *PendingConsent) string {
	return fmt.Sprintf(consentPageTemplate,
		html.EscapeString(pc.ClientName),
		html.EscapeString(clientDisplayName(pc)),
		html.EscapeString(pc.Scope),
		html.EscapeString(pc.ID),
	)
}

func clientDisplayName(pc *PendingConsent) string {
	if pc.ClientName != "" {
		return pc.ClientName
	}
	return pc.ClientID
}
