package config

import "time"

// Config is the root configuration for Marcus.
type Config struct {
	Provider        string         `json:"provider"` // "planka", "github", "linear", "memory"
	Planka          PlankaConfig   `json:"planka"`
	GitHub          GitHubConfig   `json:"github"`
	Linear          LinearConfig   `json:"linear"`
	Memory          MemoryConfig   `json:"memory"`
	AI              AIConfig       `json:"ai"`
	Monitor         MonitorConfig  `json:"monitor"`
	Gateway         GatewayConfig  `json:"gateway"`
	ToolCallTimeout Duration       `json:"tool_call_timeout"`
	PersistencePath string         `json:"persistence_path"`
	StrictStartup   bool           `json:"strict_startup"` // fail startup if the board is unreachable
}

// PlankaConfig holds Planka board credentials.
type PlankaConfig struct {
	BaseURL  string `json:"base_url"`
	Email    string `json:"email"`
	Password string `json:"password"`
	BoardID  string `json:"board_id,omitempty"`
}

// GitHubConfig holds GitHub Issues credentials.
type GitHubConfig struct {
	Token string `json:"token"`
	Owner string `json:"owner"`
	Repo  string `json:"repo"`
}

// LinearConfig holds Linear credentials.
type LinearConfig struct {
	APIKey string `json:"api_key"`
	TeamID string `json:"team_id"`
}

// MemoryConfig configures the in-process development board.
type MemoryConfig struct {
	SeedFile string `json:"seed_file,omitempty"` // optional JSON file of initial tasks
}

// AIConfig configures the instruction/blocker enrichment model.
// An empty APIKey disables AI; every adapter call takes the fallback path.
type AIConfig struct {
	Driver  string   `json:"driver"` // "openai", "anthropic"
	APIKey  string   `json:"api_key,omitempty"`
	Model   string   `json:"model,omitempty"`
	BaseURL string   `json:"base_url,omitempty"`
	Timeout Duration `json:"timeout,omitempty"`
}

// MonitorConfig configures the assignment health monitor.
type MonitorConfig struct {
	Interval       Duration `json:"interval"`
	StallThreshold Duration `json:"stall_threshold"`
	StallSweepCron string   `json:"stall_sweep_cron"`
}

// GatewayConfig holds the SSE gateway server settings.
type GatewayConfig struct {
	Host       string   `json:"host"`
	Port       int      `json:"port"`
	AuthTokens []string `json:"auth_tokens"`
}

// Duration wraps time.Duration for JSON unmarshaling.
type Duration time.Duration

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	// Remove quotes
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}
