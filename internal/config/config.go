package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/petervdpas/radyo/internal/util"
)

// FileName is the config file inside a peer directory.
const FileName = "radyo.json"

type Config struct {
	Identity Identity `json:"identity"`
	P2P      P2P      `json:"p2p"`
	Call     Call     `json:"call"`
	Blobs    Blobs    `json:"blobs"`
	Viewer   Viewer   `json:"viewer"`
}

type Identity struct {
	KeyFile string `json:"key_file"`
}

type P2P struct {
	ListenPort int    `json:"listen_port"`
	MDNS       bool   `json:"mdns"`
	MdnsTag    string `json:"mdns_tag"`
}

type Call struct {
	// Ringtone is the stored preference played for incoming calls.
	Ringtone         string `json:"ringtone"`
	RingtoneDir      string `json:"ringtone_dir"`
	FallbackRingtone string `json:"fallback_ringtone"`

	ReadyTimeoutMs int `json:"ready_timeout_ms"`
	AckTimeoutMs   int `json:"ack_timeout_ms"`
	IdleTimeoutMs  int `json:"idle_timeout_ms"`
	PollIntervalMs int `json:"poll_interval_ms"`

	Volume float64 `json:"volume"`
	// Headless replaces the audio device with a silent timer.
	Headless bool `json:"headless"`
}

type Blobs struct {
	Dir string `json:"dir"`
}

type Viewer struct {
	// HTTPAddr enables the local status surface when set, e.g. "127.0.0.1:7070".
	HTTPAddr string `json:"http_addr"`
}

func Default() Config {
	return Config{
		Identity: Identity{
			KeyFile: "data/identity.key",
		},
		P2P: P2P{
			ListenPort: 0,
			MDNS:       true,
			MdnsTag:    "radyo-mdns",
		},
		Call: Call{
			Ringtone:         "lost_woods",
			RingtoneDir:      "ringtons",
			FallbackRingtone: "lost_woods",
			ReadyTimeoutMs:   5000,
			AckTimeoutMs:     30000,
			IdleTimeoutMs:    30000,
			PollIntervalMs:   100,
			Volume:           0.5,
		},
		Blobs: Blobs{
			Dir: "data/blobs",
		},
	}
}

func (c *Config) Validate() error {
	// Identity
	if strings.TrimSpace(c.Identity.KeyFile) == "" {
		return errors.New("identity.key_file is required")
	}

	// P2P
	if c.P2P.ListenPort < 0 || c.P2P.ListenPort > 65535 {
		return errors.New("p2p.listen_port must be 0..65535")
	}
	if c.P2P.MDNS && strings.TrimSpace(c.P2P.MdnsTag) == "" {
		return errors.New("p2p.mdns_tag is required when mdns is enabled")
	}

	// Call
	if strings.TrimSpace(c.Call.RingtoneDir) == "" {
		return errors.New("call.ringtone_dir is required")
	}
	if strings.TrimSpace(c.Call.FallbackRingtone) == "" {
		return errors.New("call.fallback_ringtone is required")
	}
	if strings.ContainsAny(c.Call.Ringtone, `/\`) || strings.Contains(c.Call.Ringtone, "..") {
		return errors.New("call.ringtone must be a bare name")
	}
	if c.Call.ReadyTimeoutMs <= 0 {
		return errors.New("call.ready_timeout_ms must be > 0")
	}
	if c.Call.AckTimeoutMs <= 0 {
		return errors.New("call.ack_timeout_ms must be > 0")
	}
	if c.Call.IdleTimeoutMs <= 0 {
		return errors.New("call.idle_timeout_ms must be > 0")
	}
	if c.Call.PollIntervalMs < 10 || c.Call.PollIntervalMs > 1000 {
		return errors.New("call.poll_interval_ms must be 10..1000")
	}
	if c.Call.Volume < 0 || c.Call.Volume > 1 {
		return errors.New("call.volume must be 0..1")
	}

	// Blobs
	if strings.TrimSpace(c.Blobs.Dir) == "" {
		return errors.New("blobs.dir is required")
	}

	// Viewer
	if a := strings.TrimSpace(c.Viewer.HTTPAddr); a != "" {
		if _, _, err := net.SplitHostPort(a); err != nil {
			return fmt.Errorf("viewer.http_addr: %w", err)
		}
	}

	return nil
}

func (c Call) ReadyTimeout() time.Duration { return ms(c.ReadyTimeoutMs) }
func (c Call) AckTimeout() time.Duration   { return ms(c.AckTimeoutMs) }
func (c Call) IdleTimeout() time.Duration  { return ms(c.IdleTimeoutMs) }
func (c Call) PollInterval() time.Duration { return ms(c.PollIntervalMs) }

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

func Load(path string) (Config, error) {
	cfg, err := LoadPartial(path)
	if err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// LoadPartial reads a config file without validation.
func LoadPartial(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	// Strip UTF-8 BOM if present (common when editing JSON on Windows).
	b = stripBOM(b)

	// Start from defaults so missing JSON fields remain initialized.
	cfg := Default()
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// stripBOM removes a UTF-8 byte order mark if present.
func stripBOM(b []byte) []byte {
	if len(b) >= 3 && b[0] == 0xEF && b[1] == 0xBB && b[2] == 0xBF {
		return b[3:]
	}
	return b
}

func Save(path string, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	return util.WriteJSONFile(path, cfg)
}

// Ensure loads config if it exists; otherwise creates a default config file.
// Returns (cfg, createdNew, err).
func Ensure(path string) (Config, bool, error) {
	if _, err := os.Stat(path); err == nil {
		cfg, err := Load(path)
		return cfg, false, err
	} else if !os.IsNotExist(err) {
		return Config{}, false, err
	}

	cfg := Default()
	if err := Save(path, cfg); err != nil {
		return Config{}, false, fmt.Errorf("create default config: %w", err)
	}
	return cfg, true, nil
}

// SetRingtone stores name as the ringtone preference in the file at path.
func SetRingtone(path, name string) (Config, error) {
	cfg, _, err := Ensure(path)
	if err != nil {
		return Config{}, err
	}
	cfg.Call.Ringtone = strings.TrimSpace(name)
	if err := Save(path, cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
