package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default("acme")
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "acme", cfg.Workspace.ID)
	assert.Equal(t, []string{"Development", "Design", "Review", "Meeting", "Planning", "Testing"}, cfg.Timesheet.Tasks)
	wd, err := cfg.WeekStart()
	require.NoError(t, err)
	assert.Equal(t, time.Monday, wd)
	th, err := cfg.VarianceThreshold()
	require.NoError(t, err)
	assert.Equal(t, "10", th.String())
	assert.Equal(t, 1, cfg.BaselinePeriods())
	assert.Contains(t, cfg.RBAC.Roles["reviewer"].Permissions, "rates.view")
}

func TestFromYAML_Invalid(t *testing.T) {
	cases := map[string]string{
		"missing id":      "timesheet:\n  tasks: [A]\n",
		"duplicate task":  "workspace: {id: x}\ntimesheet:\n  tasks: [A, A]\n",
		"bad weekday":     "workspace: {id: x}\ntimesheet:\n  week_start: Someday\n",
		"bad threshold":   "workspace: {id: x}\nvariance:\n  threshold: \"-5\"\n",
		"no owner role":   "workspace: {id: x}\nrbac:\n  roles:\n    reviewer:\n      permissions: [rates.view]\n",
		"webhook without": "workspace: {id: x}\nwebhooks:\n  - secret: s\n",
		"not yaml":        "workspace: [",
	}
	for name, raw := range cases {
		_, err := FromYAML([]byte(raw))
		assert.Error(t, err, name)
	}
}

func TestFromYAML_Webhooks(t *testing.T) {
	cfg, err := FromYAML([]byte(`workspace: {id: x}
timesheet:
  week_start: sunday
webhooks:
  - url: http://billing.local/hook
    secret: s3cret
    events: [entry.approved]
`))
	require.NoError(t, err)
	require.Len(t, cfg.Webhooks, 1)
	assert.Equal(t, []string{"entry.approved"}, cfg.Webhooks[0].Events)
	wd, err := cfg.WeekStart()
	require.NoError(t, err)
	assert.Equal(t, time.Sunday, wd)
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	require.NoError(t, err)
	assert.Nil(t, cfg)

	_, err = Load(dir)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(GenerateDefault("ws")), 0o644))
	cfg, err = Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "ws", cfg.Workspace.ID)
}
