package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"queryguard/internal/config"
)

var validSecretEnvs = map[string]bool{"dev": true, "staging": true, "prod": true}

func (c *cli) paramStore(cmd *cobra.Command) (*config.ParamStore, error) {
	env, _ := cmd.Flags().GetString("env")
	if !validSecretEnvs[env] {
		return nil, fmt.Errorf("--env must be one of dev, staging, prod (got %q)", env)
	}
	api, err := c.opts.ParamStoreAPI(cmd.Context())
	if err != nil {
		return nil, err
	}
	return config.NewParamStore(api, env), nil
}

func (c *cli) secretsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secrets",
		Short: "Manage SSM-backed secrets",
		Long: `Write and check the SecureString parameters that deployed QueryGuard
processes resolve through <NAME>_SSM_PARAM pointers.`,
	}
	cmd.PersistentFlags().String("env", "dev", "target environment (dev|staging|prod)")
	cmd.AddCommand(c.secretsStatusCmd(), c.secretsPutCmd())
	return cmd
}

func (c *cli) secretsStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show which known secrets exist in SSM",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ps, err := c.paramStore(cmd)
			if err != nil {
				return err
			}
			w := newTable(c.opts.Out)
			fmt.Fprintln(w, "NAME\tPATH\tSTATUS")
			fmt.Fprintln(w, "----\t----\t------")
			for _, name := range config.SecretNames {
				ok, err := ps.Exists(cmd.Context(), name)
				if err != nil {
					return err
				}
				status := color.New(color.FgYellow).Sprint("missing")
				if ok {
					status = success.Sprint("present")
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", name, ps.Path(name), status)
			}
			return w.Flush()
		},
	}
}

func (c *cli) secretsPutCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "put [NAME]",
		Short: "Store a secret as an SSM SecureString",
		Long: `Store the value for NAME (for example TWILIO_AUTH_TOKEN). The value is
read from the terminal without echo, from piped stdin, or with --from-env
from the current environment. Prints the pointer line to add to the
deployment environment.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := strings.ToUpper(args[0])
			overwrite, _ := cmd.Flags().GetBool("overwrite")
			fromEnv, _ := cmd.Flags().GetBool("from-env")

			ps, err := c.paramStore(cmd)
			if err != nil {
				return err
			}

			var value string
			if fromEnv {
				value = os.Getenv(name)
			} else {
				value, err = readSecret(c.opts.In, c.opts.Err, fmt.Sprintf("Value for %s: ", name))
				if err != nil {
					return err
				}
			}
			if err := ps.Put(cmd.Context(), name, value, overwrite); err != nil {
				return err
			}
			fmt.Fprintf(c.opts.Out, "%s Stored %s\n", success.Sprint("✓"), ps.Path(name))
			fmt.Fprintln(c.opts.Out, ps.PointerLine(name))
			return nil
		},
	}
	cmd.Flags().Bool("overwrite", false, "replace an existing parameter")
	cmd.Flags().Bool("from-env", false, "read the value from the environment variable NAME")
	return cmd
}

// readSecret reads one line, without echo when in is a terminal.
func readSecret(in io.Reader, prompt io.Writer, label string) (string, error) {
	fmt.Fprint(prompt, label)
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(prompt)
		if err != nil {
			return "", fmt.Errorf("reading secret input: %w", err)
		}
		return strings.TrimSpace(string(b)), nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("reading secret input: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func defaultParamStoreAPI(ctx context.Context) (config.ParamStoreAPI, error) {
	region := os.Getenv("AWS_REGION")
	if region == "" {
		region = "us-east-1"
	}
	return config.NewParamStoreAPI(ctx, config.AWSConfig{Region: region, EndpointURL: os.Getenv("AWS_ENDPOINT_URL")})
}
