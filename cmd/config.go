package cmd

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var configForce bool

// configDirFunc returns the config directory path, replaceable in tests.
var configDirFunc = defaultConfigDir

func defaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "ait"), nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or manage configuration",
	Long: `Show or manage ait configuration.

Running bare 'ait config' is the same as 'ait config show'.
Every key can also be set from the environment with the AIT_ prefix,
dots replaced by underscores (AIT_API_BASE_URL).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create config file with commented defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configInitRun()
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration with sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open config file in $EDITOR",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configEditRun()
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite existing config file")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configEditCmd)
	rootCmd.AddCommand(configCmd)
}

// configKey is one documented setting. Env names derive from the key.
type configKey struct {
	Key  string
	Help string
	// Machine shows the value only as a comment in a new file, since it
	// depends on where ait runs.
	Machine bool
	// Secret values are never written by init and are masked by show.
	Secret bool
	// AltEnv is read as a fallback when the AIT_ variable is unset.
	AltEnv string
}

var configKeys = []configKey{
	{Key: "state_dir", Help: "State directory: session database, server PID file and log", Machine: true},
	{Key: "db_path", Help: "SQLite database holding the session and the issue cache", Machine: true},
	{Key: "api.base_url", Help: "Base URL every API path is joined to"},
	{Key: "api.timeout", Help: "Per-request timeout, 0 disables"},
	{Key: "api.csrf_on_bearer", Help: "Also send X-CSRFToken on requests carrying a bearer token"},
	{Key: "api.cache_ttl", Help: "How long a fetched issue list is reused before refetching"},
	{Key: "log.level", Help: "debug, info, warn or error"},
	{Key: "anthropic.model", Help: "Model for triage suggestions and description rewrites"},
	{Key: "anthropic.api_key", Secret: true, AltEnv: "ANTHROPIC_API_KEY"},
	{Key: "host", Help: "Address 'ait serve' binds; the server acts with your session, keep it on loopback"},
	{Key: "port", Help: "Port for 'ait serve'"},
}

// envVarFor maps a dotted key to its environment variable.
func envVarFor(key string) string {
	return "AIT_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// renderConfig builds a commented config.yaml from the effective values.
func renderConfig() ([]byte, error) {
	head := []string{
		"# ait configuration",
		"# See: ait config show (for effective values and sources)",
		"# Any key can be overridden from the environment, e.g. AIT_API_BASE_URL.",
		"# The Anthropic API key is read from AIT_ANTHROPIC_API_KEY or ANTHROPIC_API_KEY.",
	}
	root := &yaml.Node{Kind: yaml.MappingNode}
	for _, k := range configKeys {
		switch {
		case k.Secret:
			continue
		case k.Machine:
			head = append(head, "#", "# "+k.Help, fmt.Sprintf("# %s: %v", k.Key, viper.Get(k.Key)))
			continue
		}

		parent := root
		parts := strings.Split(k.Key, ".")
		for _, p := range parts[:len(parts)-1] {
			parent = childMapping(parent, p)
		}

		val := viper.Get(k.Key)
		if d, ok := val.(time.Duration); ok {
			val = d.String()
		}
		var v yaml.Node
		if err := v.Encode(val); err != nil {
			return nil, fmt.Errorf("encode %s: %w", k.Key, err)
		}
		parent.Content = append(parent.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: parts[len(parts)-1], HeadComment: "# " + k.Help},
			&v,
		)
	}
	doc := &yaml.Node{Kind: yaml.DocumentNode, HeadComment: strings.Join(head, "\n"), Content: []*yaml.Node{root}}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return buf.Bytes(), nil
}

// childMapping returns the mapping under key in m, adding it when missing.
func childMapping(m *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return m.Content[i+1]
		}
	}
	child := &yaml.Node{Kind: yaml.MappingNode}
	m.Content = append(m.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: key}, child)
	return child
}

func configFilePath() (string, error) {
	dir, err := configDirFunc()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

func configInitRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	// Check if file already exists
	if _, err := os.Stat(cfgPath); err == nil {
		if !configForce {
			return fmt.Errorf("config file already exists: %s (use --force to overwrite)", cfgPath)
		}
		ui.Warning("Overwriting existing config file")
	}

	data, err := renderConfig()
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would create config file: %s", cfgPath)
		fmt.Fprintln(ui.Out)
		fmt.Fprint(ui.Out, string(data))
		return nil
	}

	// Create config directory
	dir := filepath.Dir(cfgPath)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(cfgPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	ui.Success("Config file created: %s", cfgPath)
	fmt.Fprintln(ui.Out)
	fmt.Fprint(ui.Out, string(data))
	return nil
}

func configShowRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfgPath); err == nil {
		ui.Info("Config file: %s", cfgPath)
	} else {
		ui.Info("Config file: (none)")
	}
	fmt.Fprintln(ui.Out)

	doc := readConfigDoc(cfgPath)
	for _, k := range configKeys {
		val := viper.Get(k.Key)
		if k.Secret {
			val = "(unset)"
			if viper.GetString(k.Key) != "" || (k.AltEnv != "" && os.Getenv(k.AltEnv) != "") {
				val = "(set)"
			}
		}
		fmt.Fprintf(ui.Out, "  %-20s %v  %s\n", k.Key, val, valueSource(k, doc))
	}
	return nil
}

// readConfigDoc parses the config file. A missing or broken file reads as
// empty, so every value then reports its default or env source.
func readConfigDoc(path string) map[string]any {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil
	}
	return doc
}

// valueSource names where the effective value of k comes from, in viper's
// precedence order.
func valueSource(k configKey, doc map[string]any) string {
	env := envVarFor(k.Key)
	if _, ok := os.LookupEnv(env); ok {
		return fmt.Sprintf("(env: %s)", env)
	}
	if inDoc(doc, k.Key) {
		return "(file)"
	}
	if k.AltEnv != "" {
		if _, ok := os.LookupEnv(k.AltEnv); ok {
			return fmt.Sprintf("(env: %s)", k.AltEnv)
		}
	}
	return "(default)"
}

// inDoc reports whether the dotted key is set in the parsed file.
func inDoc(doc map[string]any, key string) bool {
	parts := strings.Split(key, ".")
	cur := doc
	for i, p := range parts {
		v, ok := cur[p]
		if !ok {
			return false
		}
		if i == len(parts)-1 {
			return true
		}
		if cur, ok = v.(map[string]any); !ok {
			return false
		}
	}
	return false
}

func configEditRun() error {
	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = os.Getenv("VISUAL")
	}
	if editor == "" {
		return fmt.Errorf("$EDITOR is not set; set it to your preferred editor (e.g. export EDITOR=vim)")
	}

	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s (run 'ait config init' first)", cfgPath)
	}

	if dryRun {
		ui.DryRunMsg("Would open %s in %s", cfgPath, editor)
		return nil
	}

	editCmd := exec.Command(editor, cfgPath)
	editCmd.Stdin = os.Stdin
	editCmd.Stdout = os.Stdout
	editCmd.Stderr = os.Stderr
	return editCmd.Run()
}
