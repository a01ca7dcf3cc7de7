package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

const DefaultFile = "nlo_config.yaml"

type Config struct {
	NetworksDir      string             `yaml:"networks_dir"`
	ChainSpecDir     string             `yaml:"chain_spec_dir"`
	LogDir           string             `yaml:"log_dir"`
	ChainIDOverrides map[string]string  `yaml:"chain_id_overrides"`
	Snapshot         SnapshotConfig     `yaml:"snapshot"`
	ImageUpgrade     ImageUpgradeConfig `yaml:"image_upgrade"`
	RuntimeUpgrade   RuntimeConfig      `yaml:"runtime_upgrade"`
	Kubernetes       KubernetesConfig   `yaml:"kubernetes"`
	Metrics          MetricsConfig      `yaml:"metrics"`
	SeedsFromCluster SeedsConfig        `yaml:"seeds_from_cluster"`
}

type SnapshotConfig struct {
	BaseURI         string              `yaml:"base_uri"`
	Image           string              `yaml:"image"`
	Workload        string              `yaml:"workload"`
	Timeout         time.Duration       `yaml:"timeout"`
	PollInterval    time.Duration       `yaml:"poll_interval"`
	RolloutTimeout  time.Duration       `yaml:"rollout_timeout"`
	Script          string              `yaml:"script"`
	Codec           string              `yaml:"codec"`
	Store           string              `yaml:"store"`
	Region          string              `yaml:"region"`
	AgeIdentityFile string              `yaml:"age_identity_file"`
	ChainAliases    map[string][]string `yaml:"chain_aliases"`
}

type ImageUpgradeConfig struct {
	ImageEnvVar string `yaml:"image_env_var"`
	// WaitBetween of 0s disables the pause between services.
	WaitBetween *time.Duration `yaml:"wait_between"`
	// Zero deadlines and intervals fall back to their defaults.
	HealthTimeout  time.Duration `yaml:"health_timeout"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	RequireHealthy *bool         `yaml:"require_healthy"`
}

type RuntimeConfig struct {
	RPCURL      string `yaml:"rpc_url"`
	DelayBlocks *int   `yaml:"delay_blocks"`
	SudoURI     string `yaml:"sudo_uri"`
}

type KubernetesConfig struct {
	Driver     string `yaml:"driver"`
	Kubeconfig string `yaml:"kubeconfig"`
	Context    string `yaml:"context"`
}

type MetricsConfig struct {
	Pushgateway string `yaml:"pushgateway"`
	Job         string `yaml:"job"`
}

type SeedsConfig struct {
	Selector string `yaml:"selector"`
}

// Load reads a config file. A missing file yields the defaults.
func Load(filename string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(filename)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	} else if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Snapshot.Codec {
	case "", "native", "cli":
	default:
		return fmt.Errorf("snapshot.codec must be 'native' or 'cli', got %q", c.Snapshot.Codec)
	}
	switch c.Snapshot.Store {
	case "", "sdk", "cli":
	default:
		return fmt.Errorf("snapshot.store must be 'sdk' or 'cli', got %q", c.Snapshot.Store)
	}
	switch c.Kubernetes.Driver {
	case "", "client-go", "kubectl":
	default:
		return fmt.Errorf("kubernetes.driver must be 'client-go' or 'kubectl', got %q", c.Kubernetes.Driver)
	}
	if c.Snapshot.Timeout != 0 && c.Snapshot.Timeout < MinSnapshotTimeout {
		return fmt.Errorf("snapshot.timeout must be at least %s", MinSnapshotTimeout)
	}
	if c.ImageUpgrade.WaitBetween != nil && *c.ImageUpgrade.WaitBetween < 0 {
		return fmt.Errorf("image_upgrade.wait_between must not be negative")
	}
	for name, d := range map[string]time.Duration{
		"image_upgrade.health_timeout": c.ImageUpgrade.HealthTimeout,
		"image_upgrade.poll_interval":  c.ImageUpgrade.PollInterval,
		"snapshot.poll_interval":       c.Snapshot.PollInterval,
		"snapshot.rollout_timeout":     c.Snapshot.RolloutTimeout,
	} {
		if d < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}
	if c.RuntimeUpgrade.DelayBlocks != nil && *c.RuntimeUpgrade.DelayBlocks < 0 {
		return fmt.Errorf("runtime_upgrade.delay_blocks must not be negative")
	}
	if !regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`).MatchString(c.ImageEnvVar()) {
		return fmt.Errorf("image_upgrade.image_env_var is not a valid variable name: %q", c.ImageEnvVar())
	}
	for ns, id := range c.ChainIDOverrides {
		if id == "" {
			return fmt.Errorf("chain_id_overrides.%s must not be empty", ns)
		}
	}
	return nil
}

const MinSnapshotTimeout = 30 * time.Second

func (c *Config) NetworksRoot() string {
	if c.NetworksDir != "" {
		return c.NetworksDir
	}
	return "networks/well-known"
}

func (c *Config) ChainSpecRoot() string {
	if c.ChainSpecDir != "" {
		return c.ChainSpecDir
	}
	return "res"
}

func (c *Config) LogRoot() string {
	if c.LogDir != "" {
		return c.LogDir
	}
	return "logs"
}

// ChainIDOverride reports the fixed chain id for a namespace, if any.
func (c *Config) ChainIDOverride(namespace string) (string, bool) {
	if c.ChainIDOverrides != nil {
		id, ok := c.ChainIDOverrides[namespace]
		return id, ok
	}
	if namespace == "node-dev-01" {
		return "qanet", true
	}
	return "", false
}

func (c *Config) SnapshotImage() string {
	if c.Snapshot.Image != "" {
		return c.Snapshot.Image
	}
	return "amazon/aws-cli:2.17.16"
}

func (c *Config) SnapshotWorkload() string {
	if c.Snapshot.Workload != "" {
		return c.Snapshot.Workload
	}
	return "midnight-node-boot-01"
}

func (c *Config) SnapshotTimeout() time.Duration {
	if c.Snapshot.Timeout > 0 {
		return c.Snapshot.Timeout
	}
	return 30 * time.Minute
}

func (c *Config) SnapshotPollInterval() time.Duration {
	if c.Snapshot.PollInterval > 0 {
		return c.Snapshot.PollInterval
	}
	return 5 * time.Second
}

func (c *Config) SnapshotRolloutTimeout() time.Duration {
	if c.Snapshot.RolloutTimeout > 0 {
		return c.Snapshot.RolloutTimeout
	}
	return c.SnapshotTimeout()
}

func (c *Config) ArchiveCodec() string {
	if c.Snapshot.Codec != "" {
		return c.Snapshot.Codec
	}
	return "native"
}

func (c *Config) ObjectStore() string {
	if c.Snapshot.Store != "" {
		return c.Snapshot.Store
	}
	return "sdk"
}

func (c *Config) SnapshotRegion() string {
	if c.Snapshot.Region != "" {
		return c.Snapshot.Region
	}
	return "us-east-1"
}

// ChainAliases maps a restored chain directory to the extra names it is copied under.
func (c *Config) ChainAliases() map[string][]string {
	if c.Snapshot.ChainAliases != nil {
		return c.Snapshot.ChainAliases
	}
	return map[string][]string{"devnet": {"qanet"}}
}

func (c *Config) ImageEnvVar() string {
	if c.ImageUpgrade.ImageEnvVar != "" {
		return c.ImageUpgrade.ImageEnvVar
	}
	return "NODE_IMAGE"
}

func (c *Config) WaitBetween() time.Duration {
	if c.ImageUpgrade.WaitBetween != nil {
		return *c.ImageUpgrade.WaitBetween
	}
	return 5 * time.Second
}

func (c *Config) HealthTimeout() time.Duration {
	if c.ImageUpgrade.HealthTimeout > 0 {
		return c.ImageUpgrade.HealthTimeout
	}
	return 180 * time.Second
}

func (c *Config) HealthPollInterval() time.Duration {
	if c.ImageUpgrade.PollInterval > 0 {
		return c.ImageUpgrade.PollInterval
	}
	return 1500 * time.Millisecond
}

func (c *Config) RequireHealthy() bool {
	if c.ImageUpgrade.RequireHealthy != nil {
		return *c.ImageUpgrade.RequireHealthy
	}
	return true
}

func (c *Config) RPCURL() string {
	if c.RuntimeUpgrade.RPCURL != "" {
		return c.RuntimeUpgrade.RPCURL
	}
	return "ws://localhost:9944"
}

func (c *Config) DelayBlocks() int {
	if c.RuntimeUpgrade.DelayBlocks != nil {
		return *c.RuntimeUpgrade.DelayBlocks
	}
	return 15
}

func (c *Config) KubeDriver() string {
	if c.Kubernetes.Driver != "" {
		return c.Kubernetes.Driver
	}
	return "client-go"
}

func (c *Config) MetricsJob() string {
	if c.Metrics.Job != "" {
		return c.Metrics.Job
	}
	return "nlo"
}

func (c *Config) SeedPodSelector() string {
	if c.SeedsFromCluster.Selector != "" {
		return c.SeedsFromCluster.Selector
	}
	return "midnight.tech/node-type=authority"
}
