package notify

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/nimbus-iot/nimbus-core/internal/rules"
)

// alertTemplate is the HTML alert body. The greeting carries the
// recipient's name from the directory lookup.
var alertTemplate = template.Must(template.New("alert").Parse(`<html>
<body>
  <p>Hello {{.Name}},</p>
  <p>Your device <strong>{{.DeviceID}}</strong> reported a problem on the
  <strong>{{.Channel}}</strong> channel at {{.DetectedAt}}.</p>
  <p>Rule: <code>{{.RuleID}}</code>{{if .Values}}<br>Reading: {{.Values}}{{end}}</p>
  <p>If this keeps happening, check the device and its surroundings.</p>
  <p>&mdash; Nimbus</p>
</body>
</html>`))

// alertData feeds the alert template.
type alertData struct {
	Name       string
	DeviceID   string
	Channel    string
	RuleID     string
	Values     string
	DetectedAt string
}

// renderAlert produces the subject and HTML body for one condition.
func renderAlert(recipient Recipient, condition rules.Condition) (subject, body string, err error) {
	var values []string
	for _, r := range condition.Readings {
		values = append(values, fmt.Sprintf("%.2f", r.Value))
	}

	name := recipient.Name
	if name == "" {
		name = "there"
	}

	data := alertData{
		Name:       name,
		DeviceID:   condition.DeviceID,
		Channel:    condition.Channel,
		RuleID:     condition.RuleID,
		Values:     strings.Join(values, ", "),
		DetectedAt: condition.DetectedAt.UTC().Format(time.RFC1123),
	}

	var buf bytes.Buffer
	if err := alertTemplate.Execute(&buf, data); err != nil {
		return "", "", fmt.Errorf("rendering alert template: %w", err)
	}

	subject = fmt.Sprintf("Nimbus alert: %s on %s", condition.Channel, condition.DeviceID)
	return subject, buf.String(), nil
}
