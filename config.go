package playlist_archiver

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"text/template"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/alanbriolat/playlist-archiver/util"
)

const (
	DefaultMaxAttempts      = 3
	DefaultRetryBackoff     = 2 * time.Second
	DefaultChunkSize        = 64 * 1024
	DefaultPlaceholderTotal = 100 * 1024 * 1024
	DefaultFailureLogPath   = "failed_downloads.txt"
	DefaultFileTemplate     = "{{.Filename}}"

	// PlaceholderAPIKey is the value shipped in example configuration, never a usable key.
	PlaceholderAPIKey = "YOUR_API_KEY"
)

var (
	ErrInvalidConfig = errors.New("invalid config")
)

// FormatOptions are passed through to the resolution service unchanged.
type FormatOptions struct {
	VideoQuality  string
	VideoCodec    string
	AudioFormat   string
	FilenameStyle string
}

var DefaultFormatOptions = FormatOptions{
	VideoQuality:  "1080",
	VideoCodec:    "h264",
	AudioFormat:   "best",
	FilenameStyle: "pretty",
}

type Config struct {
	ResolverEndpoint string
	APIKey           string
	Format           FormatOptions

	TargetDir    string
	FileTemplate string

	FailureLogPath string
	HistoryPath    string

	MaxAttempts      int
	RetryBackoff     time.Duration
	ChunkSize        int
	PlaceholderTotal int64
	RequestTimeout   time.Duration
}

func DefaultConfig() Config {
	return Config{
		Format:           DefaultFormatOptions,
		TargetDir:        ".",
		FileTemplate:     DefaultFileTemplate,
		FailureLogPath:   DefaultFailureLogPath,
		MaxAttempts:      DefaultMaxAttempts,
		RetryBackoff:     DefaultRetryBackoff,
		ChunkSize:        DefaultChunkSize,
		PlaceholderTotal: DefaultPlaceholderTotal,
		RequestTimeout:   30 * time.Second,
	}
}

// Validate checks everything that must be right before a run starts, reporting all problems at once.
func (c *Config) Validate() error {
	var result error
	if c.ResolverEndpoint == "" {
		result = multierror.Append(result, errors.New("resolver endpoint is required"))
	} else if err := ValidateEndpoint(c.ResolverEndpoint); err != nil {
		result = multierror.Append(result, err)
	}
	if c.APIKey == PlaceholderAPIKey {
		result = multierror.Append(result, fmt.Errorf("API key is the placeholder %q", PlaceholderAPIKey))
	}
	if c.TargetDir == "" {
		result = multierror.Append(result, errors.New("target directory is required"))
	}
	if _, err := c.fileTemplate(); err != nil {
		result = multierror.Append(result, fmt.Errorf("file template: %w", err))
	}
	if c.MaxAttempts < 1 {
		result = multierror.Append(result, fmt.Errorf("max attempts must be at least 1, got %d", c.MaxAttempts))
	}
	if c.RetryBackoff < 0 {
		result = multierror.Append(result, fmt.Errorf("retry backoff must not be negative, got %v", c.RetryBackoff))
	}
	if c.ChunkSize < 1 {
		result = multierror.Append(result, fmt.Errorf("chunk size must be positive, got %d", c.ChunkSize))
	}
	if c.PlaceholderTotal < 1 {
		result = multierror.Append(result, fmt.Errorf("placeholder total must be positive, got %d", c.PlaceholderTotal))
	}
	if result != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, result)
	}
	return nil
}

// ValidateEndpoint requires an absolute http(s) URL.
func ValidateEndpoint(endpoint string) error {
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("invalid endpoint %q: %w", endpoint, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid endpoint %q: scheme must be http or https", endpoint)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid endpoint %q: missing host", endpoint)
	}
	return nil
}

func (c *Config) fileTemplate() (*template.Template, error) {
	text := c.FileTemplate
	if text == "" {
		text = DefaultFileTemplate
	}
	return template.New("target_file").Parse(text)
}

// GetTargetPath renders the file template for an item and joins it onto TargetDir.
func (c *Config) GetTargetPath(index int, req DownloadRequest, filename string) (string, error) {
	tmpl, err := c.fileTemplate()
	if err != nil {
		return "", err
	}
	args := targetFileTemplateArgs{
		Index:    index,
		Title:    req.Title,
		Filename: filename,
	}
	builder := strings.Builder{}
	if err := tmpl.Execute(&builder, &args); err != nil {
		return "", err
	}
	name := util.SanitizeFilename(builder.String())
	if name == "" {
		return "", fmt.Errorf("file template produced an empty name for %v", req)
	}
	return filepath.Join(c.TargetDir, name), nil
}

type targetFileTemplateArgs struct {
	Index    int
	Title    string
	Filename string
}
