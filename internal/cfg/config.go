// Package cfg loads the mergequeue configuration file.
package cfg

import (
	"io"

	"github.com/pelletier/go-toml"
)

type Config struct {
	HTTPListenAddr            string     `toml:"http_server_listen_addr"`
	HTTPSListenAddr           string     `toml:"https_server_listen_addr"`
	HTTPSCertFile             string     `toml:"https_ssl_cert_file"`
	HTTPSKeyFile              string     `toml:"https_ssl_key_file"`
	HTTPGithubWebhookEndpoint string     `toml:"github_webhook_endpoint"`
	HTTPMetricsEndpoint       string     `toml:"metrics_endpoint"`
	HTTPStatusEndpoint        string     `toml:"status_endpoint"`
	GithubWebHookSecret       string     `toml:"github_webhook_secret"`
	GithubAPIToken            string     `toml:"github_api_token"`
	LogFormat                 string     `toml:"log_format"`
	LogTimeKey                string     `toml:"log_time_key"`
	LogLevel                  string     `toml:"log_level"`
	MergeQueue                MergeQueue `toml:"mergequeue"`
}

type GithubRepository struct {
	Owner          string `toml:"owner"`
	RepositoryName string `toml:"repository"`
}

type MergeQueue struct {
	Repository     GithubRepository `toml:"repository"`
	MainlineBranch string           `toml:"mainline_branch"`
	StagingBranch  string           `toml:"staging_branch"`
	Mention        string           `toml:"mention"`
	BatchSize      int              `toml:"batch_size"`
	// CIWaitTimeout bounds how long the worker waits for a workflow run
	// conclusion, value must be parseable by time.ParseDuration.
	CIWaitTimeout string `toml:"ci_wait_timeout"`
	QueueCapacity int    `toml:"queue_capacity"`
}

func Load(reader io.Reader) (*Config, error) {
	var result Config

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}

	if err := toml.Unmarshal(data, &result); err != nil {
		return nil, err
	}

	return &result, nil
}

func (r *Config) Marshal(writer io.Writer) error {
	return toml.NewEncoder(writer).Encode(r)
}
