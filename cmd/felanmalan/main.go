package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/osvaldoandrade/felanmalan/pkg/client"
)

const defaultBaseURL = "http://localhost:3000/api"

type ui struct {
	title func(a ...any) string
	ok    func(a ...any) string
	info  func(a ...any) string
	warn  func(a ...any) string
	err   func(a ...any) string
	dim   func(a ...any) string
}

type profile struct {
	BaseURL        string `yaml:"baseUrl"`
	TimeoutSeconds int    `yaml:"timeoutSeconds,omitempty"`
	Email          string `yaml:"email,omitempty"`
	Phone          string `yaml:"phone,omitempty"`
}

type cliConfig struct {
	CurrentProfile string             `yaml:"currentProfile"`
	Profiles       map[string]profile `yaml:"profiles"`
}

type globals struct {
	baseURL string
	profile profile
	timeout time.Duration
}

func newUI() *ui {
	return &ui{
		title: color.New(color.FgHiCyan, color.Bold).SprintFunc(),
		ok:    color.New(color.FgGreen, color.Bold).SprintFunc(),
		info:  color.New(color.FgCyan).SprintFunc(),
		warn:  color.New(color.FgYellow).SprintFunc(),
		err:   color.New(color.FgRed, color.Bold).SprintFunc(),
		dim:   color.New(color.FgHiBlack).SprintFunc(),
	}
}

func main() {
	g := &globals{baseURL: getenv("FELANMALAN_BASE_URL", defaultBaseURL)}
	profileName := getenv("FELANMALAN_PROFILE", "")
	ui := newUI()

	root := &cobra.Command{
		Use:   "felanmalan",
		Short: "Report faults in public spaces",
		Long:  "felanmalan CLI for reporting faults to the municipality and browsing open reports.",
	}
	root.SetHelpTemplate(helpTemplate(ui))
	root.SilenceUsage = true

	root.PersistentFlags().StringVar(&g.baseURL, "base-url", g.baseURL, "Base URL of the felanmalan API")
	root.PersistentFlags().StringVar(&profileName, "profile", profileName, "Config profile")
	root.PersistentFlags().DurationVar(&g.timeout, "timeout", 0, "Request timeout (default 60s)")

	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		cfg, _, _ := loadConfig()
		g.profile = cfg.Profiles[resolveProfileName(profileName, cfg)]
		if !cmd.Flags().Changed("base-url") && strings.TrimSpace(os.Getenv("FELANMALAN_BASE_URL")) == "" && g.profile.BaseURL != "" {
			g.baseURL = g.profile.BaseURL
		}
		if g.timeout == 0 && g.profile.TimeoutSeconds > 0 {
			g.timeout = time.Duration(g.profile.TimeoutSeconds) * time.Second
		}
		return nil
	}

	root.AddCommand(
		initCmd(&profileName, ui),
		reportCmd(g, ui),
		errandsCmd(g, ui),
		attachmentCmd(g, ui),
		healthCmd(g, ui),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, ui.err("[ERROR]"), err)
		os.Exit(1)
	}
}

func (g *globals) client() *client.Client {
	var opts []client.Option
	if g.timeout > 0 {
		opts = append(opts, client.WithTimeout(g.timeout))
	}
	return client.New(g.baseURL, opts...)
}

func initCmd(profileName *string, ui *ui) *cobra.Command {
	var (
		baseURL  string
		email    string
		phone    string
		noPrompt bool
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize CLI config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, cfgPath, err := loadConfig()
			if err != nil {
				return err
			}
			active := resolveProfileName(*profileName, cfg)
			prof := cfg.Profiles[active]

			baseURL = firstNonEmpty(baseURL, prof.BaseURL, defaultBaseURL)
			email = firstNonEmpty(email, prof.Email)
			phone = firstNonEmpty(phone, prof.Phone)

			if !noPrompt && isTerminal(int(os.Stdin.Fd())) {
				reader := bufio.NewReader(os.Stdin)
				baseURL = prompt(reader, "API base URL", baseURL)
				email = prompt(reader, "Contact email (optional)", email)
				phone = prompt(reader, "Contact phone (optional)", phone)
			}

			prof.BaseURL = strings.TrimSpace(baseURL)
			prof.Email = strings.TrimSpace(email)
			prof.Phone = strings.TrimSpace(phone)

			if cfg.Profiles == nil {
				cfg.Profiles = map[string]profile{}
			}
			cfg.Profiles[active] = prof
			if cfg.CurrentProfile == "" || *profileName != "" {
				cfg.CurrentProfile = active
			}
			if err := saveConfig(cfg, cfgPath); err != nil {
				return err
			}
			fmt.Printf("%s Initialized profile '%s' at %s\n", ui.ok("[OK]"), active, cfgPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&baseURL, "base-url", "", "Base URL of the felanmalan API")
	cmd.Flags().StringVar(&email, "email", "", "Default contact email")
	cmd.Flags().StringVar(&phone, "phone", "", "Default contact phone")
	cmd.Flags().BoolVar(&noPrompt, "no-prompt", false, "Disable interactive prompts")
	return cmd
}

func helpTemplate(ui *ui) string {
	title := ui.title("felanmalan")
	return fmt.Sprintf(`%s - report faults in public spaces

Usage:
  {{.UseLine}}

Commands:
{{range .Commands}}{{if (or .IsAvailableCommand .IsAdditionalHelpTopicCommand)}}
  {{rpad .Name .NamePadding }} {{.Short}}{{end}}{{end}}

Flags:
  {{.LocalFlags.FlagUsages | trimTrailingWhitespaces}}

Global Flags:
  {{.InheritedFlags.FlagUsages | trimTrailingWhitespaces}}

Config:
  %s

Examples:
  felanmalan init
  felanmalan report --image hole.jpg --at 617144,6921822 --description "Pothole on Main St"
  felanmalan errands list
  felanmalan errands near --at 617144,6921822
  felanmalan attachment get <errandId> <attachmentId> -o photo.jpg

`, title, configPath())
}

func configPath() string {
	if v := strings.TrimSpace(os.Getenv("FELANMALAN_CONFIG_DIR")); v != "" {
		return filepath.Join(v, "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.yaml"
	}
	return filepath.Join(home, ".felanmalan", "config.yaml")
}

func loadConfig() (cliConfig, string, error) {
	path := configPath()
	var cfg cliConfig
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cliConfig{Profiles: map[string]profile{}}, path, nil
		}
		return cfg, path, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, path, err
	}
	if cfg.Profiles == nil {
		cfg.Profiles = map[string]profile{}
	}
	return cfg, path, nil
}

func saveConfig(cfg cliConfig, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func resolveProfileName(flag string, cfg cliConfig) string {
	if strings.TrimSpace(flag) != "" {
		return strings.TrimSpace(flag)
	}
	if v := strings.TrimSpace(os.Getenv("FELANMALAN_PROFILE")); v != "" {
		return v
	}
	if cfg.CurrentProfile != "" {
		return cfg.CurrentProfile
	}
	return "default"
}

func prompt(r *bufio.Reader, label, def string) string {
	if def != "" {
		fmt.Printf("%s [%s]: ", label, def)
	} else {
		fmt.Printf("%s: ", label)
	}
	line, _ := r.ReadString('\n')
	line = strings.TrimSpace(line)
	if line == "" {
		return def
	}
	return line
}

func confirm(r *bufio.Reader, label string) bool {
	ans := strings.ToLower(prompt(r, label+" (y/N)", ""))
	return ans == "y" || ans == "yes" || ans == "j" || ans == "ja"
}

func isTerminal(fd int) bool {
	return term.IsTerminal(fd)
}

func getenv(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
