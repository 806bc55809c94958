// Package config implements the Settings Store: an atomically reloadable
// snapshot of runtime configuration, backed by a plain key/value .env file,
// in the shape of the teacher's internal/config/config.go but extended with
// the hot-reload and durable-update machinery the capture daemon needs.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/joho/godotenv"
)

// ErrColdKey is returned by Update when the patch touches a key that only
// takes effect at process start.
var ErrColdKey = errors.New("config: key requires restart")

// ErrMissingFieldName is the error the uploader logs on each drain pass
// while UploadFieldName is empty; the field name has no safe default, so
// uploading is skipped until it is set.
var ErrMissingFieldName = errors.New("config: UPLOAD_FIELD_NAME must be set")

// ColdSettings are parsed once at startup (typically from CLI flags bound
// by cobra/viper in cmd/gatecamd) and never change for the life of the
// process: bind address, GPIO pin numbers, storage directory, auth on/off.
type ColdSettings struct {
	BindIP              string
	BindPort            int
	StorageDir          string
	DatabasePath         string
	LogDir              string
	EnvFile             string
	GPIOEnabled         bool
	GPIOPins            map[string]int // source tag -> BCM pin number
	WebAuthEnabled      bool
}

// CameraConfig is the derived, non-persisted camera descriptor of spec.md §3.
type CameraConfig struct {
	Tag      string
	Name     string
	Enabled  bool
	IP       string
	Username string
	Password string
	RTSPOverride string
}

// RTSPURL resolves the effective capture URL: the explicit override if
// set, else a well-known constructed form.
func (c CameraConfig) RTSPURL() string {
	if c.RTSPOverride != "" {
		return c.RTSPOverride
	}
	return fmt.Sprintf("rtsp://%s:%s@%s:554/avstream/channel=1/stream=0.sdp", c.Username, c.Password, c.IP)
}

// Snapshot is the immutable, hot-reloadable half of configuration. A new
// Snapshot replaces the old one atomically; readers never see a torn value.
type Snapshot struct {
	Cameras map[string]CameraConfig // keyed by tag, e.g. "r1"
	cameraOrder []string

	TriggerEnabled bool

	UploadEnabled            bool
	UploadEndpoint           string
	UploadFieldName          string
	UploadBearer             string
	MaxRetries               int
	RetryDelaySeconds        int
	ConnectivityCheckSeconds int

	RetentionDays        int
	CleanupIntervalHours int

	raw map[string]string
}

// Camera returns the descriptor for tag, or false if unknown.
func (s *Snapshot) Camera(tag string) (CameraConfig, bool) {
	c, ok := s.Cameras[tag]
	return c, ok
}

// CameraTags returns configured camera tags in stable (insertion) order.
func (s *Snapshot) CameraTags() []string {
	out := make([]string, len(s.cameraOrder))
	copy(out, s.cameraOrder)
	return out
}

// Redacted returns a copy of the raw key/value map with secrets masked,
// suitable for /api/config/get.
func (s *Snapshot) Redacted() map[string]string {
	secret := map[string]bool{
		"CAMERA_PASSWORD":   true,
		"UPLOAD_AUTH_BEARER": true,
		"PASSWORD_HASH":     true,
		"SECRET_KEY":        true,
	}
	out := make(map[string]string, len(s.raw))
	for k, v := range s.raw {
		if secret[k] || strings.Contains(k, "PASSWORD") || strings.Contains(k, "BEARER") || strings.Contains(k, "SECRET") {
			if v != "" {
				v = "••••••••"
			}
		}
		out[k] = v
	}
	return out
}

// hotKeys lists the env keys Update()/Reload() are permitted to change
// without a restart. Cold keys are documented alongside in coldKeys and
// surfaced by /api/config/get so operators know which edits need one.
var hotKeys = map[string]bool{
	"CAMERA_USERNAME": true, "CAMERA_PASSWORD": true,
	"CAMERA_1_IP": true, "CAMERA_2_IP": true, "CAMERA_3_IP": true,
	"CAMERA_1_RTSP": true, "CAMERA_2_RTSP": true, "CAMERA_3_RTSP": true,
	"CAMERA_1_ENABLED": true, "CAMERA_2_ENABLED": true, "CAMERA_3_ENABLED": true,
	"GPIO_TRIGGER_ENABLED":        true,
	"UPLOAD_ENABLED":              true,
	"UPLOAD_ENDPOINT":             true,
	"UPLOAD_FIELD_NAME":           true,
	"UPLOAD_AUTH_BEARER":          true,
	"MAX_RETRIES":                 true,
	"RETRY_DELAY":                 true,
	"CONNECTIVITY_CHECK_INTERVAL": true,
	"IMAGE_RETENTION_DAYS":        true,
	"CLEANUP_INTERVAL_HOURS":      true,
}

var coldKeys = []string{
	"BIND_IP", "BIND_PORT", "GPIO_ENABLED", "GPIO_CAMERA_1_PIN", "GPIO_CAMERA_2_PIN",
	"GPIO_CAMERA_3_PIN", "IMAGE_STORAGE_PATH", "WEB_AUTH_ENABLED",
}

// ColdKeys reports the key names that require a restart.
func ColdKeys() []string {
	out := make([]string, len(coldKeys))
	copy(out, coldKeys)
	sort.Strings(out)
	return out
}

// Store owns the settings file and the currently published Snapshot.
type Store struct {
	path string
	cur  atomic.Pointer[Snapshot]
}

// NewStore loads path (creating it empty if absent) and returns a Store
// with the initial Snapshot published.
func NewStore(path string) (*Store, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create settings directory: %w", err)
		}
		if err := os.WriteFile(path, nil, 0o644); err != nil {
			return nil, fmt.Errorf("create settings file: %w", err)
		}
	}

	s := &Store{path: path}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Current returns the actively published Snapshot.
func (s *Store) Current() *Snapshot {
	return s.cur.Load()
}

// Reload re-parses the settings file from disk and swaps it in atomically.
func (s *Store) Reload() error {
	raw, err := godotenv.Read(s.path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", s.path, err)
	}
	snap := buildSnapshot(raw)
	s.cur.Store(snap)
	return nil
}

// Update merges patch into the current settings file and re-publishes a
// Snapshot built from the merged contents. The file write (temp + rename)
// is the durability boundary; any key in patch that is not hot returns
// ErrColdKey and no write occurs.
func (s *Store) Update(patch map[string]string) error {
	for k := range patch {
		if !hotKeys[k] {
			return fmt.Errorf("%w: %s", ErrColdKey, k)
		}
	}

	raw, err := godotenv.Read(s.path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", s.path, err)
	}
	for k, v := range patch {
		raw[k] = v
	}

	if err := writeEnvFileAtomic(s.path, raw); err != nil {
		return err
	}

	s.cur.Store(buildSnapshot(raw))
	return nil
}

func writeEnvFileAtomic(path string, kv map[string]string) error {
	keys := make([]string, 0, len(kv))
	for k := range kv {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%s\n", k, kv[k])
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".settings-*.tmp")
	if err != nil {
		return fmt.Errorf("config: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.WriteString(b.String()); err != nil {
		tmp.Close()
		return fmt.Errorf("config: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("config: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("config: rename into place: %w", err)
	}
	return nil
}

func buildSnapshot(raw map[string]string) *Snapshot {
	get := func(k, def string) string {
		if v, ok := raw[k]; ok && v != "" {
			return v
		}
		return def
	}
	getBool := func(k string, def bool) bool {
		v, ok := raw[k]
		if !ok || v == "" {
			return def
		}
		return strings.EqualFold(v, "true")
	}
	getInt := func(k string, def int) int {
		v, ok := raw[k]
		if !ok || v == "" {
			return def
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return def
		}
		return n
	}

	username := get("CAMERA_USERNAME", "admin")
	password := get("CAMERA_PASSWORD", "admin")

	order := []string{"r1", "r2", "r3"}
	numByTag := map[string]string{"r1": "1", "r2": "2", "r3": "3"}
	nameByTag := map[string]string{"r1": "Entry", "r2": "Exit", "r3": "Auxiliary"}

	cameras := make(map[string]CameraConfig, len(order))
	for _, tag := range order {
		n := numByTag[tag]
		cameras[tag] = CameraConfig{
			Tag:          tag,
			Name:         nameByTag[tag],
			Enabled:      getBool("CAMERA_"+n+"_ENABLED", true),
			IP:           get("CAMERA_"+n+"_IP", ""),
			Username:     username,
			Password:     password,
			RTSPOverride: get("CAMERA_"+n+"_RTSP", ""),
		}
	}

	raw2 := make(map[string]string, len(raw))
	for k, v := range raw {
		raw2[k] = v
	}

	return &Snapshot{
		Cameras:                  cameras,
		cameraOrder:              order,
		TriggerEnabled:           getBool("GPIO_TRIGGER_ENABLED", true),
		UploadEnabled:            getBool("UPLOAD_ENABLED", true),
		UploadEndpoint:           get("UPLOAD_ENDPOINT", ""),
		UploadFieldName:          get("UPLOAD_FIELD_NAME", ""),
		UploadBearer:             get("UPLOAD_AUTH_BEARER", ""),
		MaxRetries:               getInt("MAX_RETRIES", 3),
		RetryDelaySeconds:        getInt("RETRY_DELAY", 5),
		ConnectivityCheckSeconds: getInt("CONNECTIVITY_CHECK_INTERVAL", 60),
		RetentionDays:            getInt("IMAGE_RETENTION_DAYS", 120),
		CleanupIntervalHours:     getInt("CLEANUP_INTERVAL_HOURS", 24),
		raw:                      raw2,
	}
}

// LoadCold reads the cold settings directly from the environment (which
// cmd/gatecamd populates from the settings file before calling it) without
// going through the Store, since these never change for the life of the
// process.
func LoadCold(getenv func(string) string) ColdSettings {
	get := func(k, def string) string {
		if v := getenv(k); v != "" {
			return v
		}
		return def
	}
	getBool := func(k string, def bool) bool {
		v := getenv(k)
		if v == "" {
			return def
		}
		return strings.EqualFold(v, "true")
	}
	getInt := func(k string, def int) int {
		v := getenv(k)
		if v == "" {
			return def
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return def
		}
		return n
	}

	return ColdSettings{
		BindIP:     get("BIND_IP", "0.0.0.0"),
		BindPort:   getInt("BIND_PORT", 9000),
		StorageDir: get("IMAGE_STORAGE_PATH", "images"),
		DatabasePath: get("DATABASE_PATH", filepath.Join("data", "gatecam.db")),
		LogDir:     get("LOG_DIR", "logs"),
		EnvFile:    get("ENV_FILE", ".env"),
		GPIOEnabled: getBool("GPIO_ENABLED", false),
		GPIOPins: map[string]int{
			"r1": getInt("GPIO_CAMERA_1_PIN", 18),
			"r2": getInt("GPIO_CAMERA_2_PIN", 19),
			"r3": getInt("GPIO_CAMERA_3_PIN", 20),
		},
		WebAuthEnabled: getBool("WEB_AUTH_ENABLED", true),
	}
}
