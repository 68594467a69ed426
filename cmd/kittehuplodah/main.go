package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/logrusorgru/aurora/v3"
	"github.com/mattn/go-isatty"
	"github.com/mt-inside/http-log/pkg/bios"
	"github.com/mt-inside/http-log/pkg/output"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	tlog "github.com/tetratelabs/log"
	"github.com/tetratelabs/telemetry"
	"github.com/tetratelabs/telemetry/scope"

	"github.com/mt-inside/kittehuplodah/internal/build"
	"github.com/mt-inside/kittehuplodah/internal/licenses"
	"github.com/mt-inside/kittehuplodah/pkg/parser"
	"github.com/mt-inside/kittehuplodah/pkg/state"
	"github.com/mt-inside/kittehuplodah/pkg/transport"
)

var log = scope.Register("main", "Command line")

func init() {
	spew.Config.DisableMethods = true
	spew.Config.DisablePointerMethods = true
}

// Flags which can also be set in the config file's [default] section
var configurableFlags = []string{"timeout", "io-timeout", "resolver", "resolv-conf", "ca", "insecure", "dnssec"}

func main() {
	s := output.NewTtyStyler(aurora.NewAurora(isatty.IsTerminal(os.Stdout.Fd())))
	b := bios.NewTtyBios(s)

	if err := newCommand(viper.New(), s, b).Execute(); err != nil {
		b.PrintErr(err.Error())
		os.Exit(1)
	}
}

func newCommand(v *viper.Viper, s output.TtyStyler, b bios.TtyBios) *cobra.Command {
	cmd := &cobra.Command{
		Use:     build.Name + " [--config=<file>] <files>...",
		Short:   "Upload files to the configured uploader",
		Version: build.Version,
		Args:    cobra.ArbitraryArgs,
		// main prints errors, through bios
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return appMain(cmd, v, s, b, args)
		},
	}
	cmd.SetVersionTemplate(build.NameAndVersion() + "\n")

	cmd.Flags().String("config", state.DefaultConfigFile, "Config file location")
	cmd.Flags().Bool("license", false, "Print the application's license info")
	cmd.Flags().BoolP("verbose", "v", false, "Debug logging")
	cmd.Flags().DurationP("timeout", "t", 10*time.Second, "Bound on resolving, connecting, and the TLS handshake together, and on each connection attempt (0 for none)")
	cmd.Flags().Duration("io-timeout", 30*time.Second, "Deadline for each read or write once connected (0 for none)")
	cmd.Flags().String("resolver", transport.ResolverSystem, "Name resolution: 'system' (libc or Go's, as the OS is configured) or 'dns' (ask resolv.conf's nameservers directly)")
	cmd.Flags().String("resolv-conf", transport.DefaultResolvConf, "resolv.conf to use for --resolver=dns and --dnssec")
	cmd.Flags().StringSliceP("ca", "C", nil, "PEM file holding a TLS server CA cert, trusted instead of the system roots. Repeat for more")
	cmd.Flags().BoolP("insecure", "k", false, "Don't verify the server's certificate chain")
	cmd.Flags().Bool("dnssec", false, "Check the upload host's DNSSEC signatures (information only)")

	if err := v.BindPFlag("config", cmd.Flags().Lookup("config")); err != nil {
		panic(errors.New("Can't set up flags"))
	}
	for _, name := range configurableFlags {
		if err := v.BindPFlag("default."+name, cmd.Flags().Lookup(name)); err != nil {
			panic(errors.New("Can't set up flags"))
		}
	}

	return cmd
}

func setupLogging(verbose bool) {
	lvl := telemetry.LevelInfo
	if verbose {
		lvl = telemetry.LevelDebug
	}
	logger := tlog.NewFlattened()
	logger.SetLevel(lvl)
	scope.UseLogger(logger)
	scope.SetAllScopes(lvl)
}

func appMain(cmd *cobra.Command, v *viper.Viper, s output.TtyStyler, b bios.TtyBios, args []string) error {
	verbose, _ := cmd.Flags().GetBool("verbose")
	setupLogging(verbose)

	if license, _ := cmd.Flags().GetBool("license"); license {
		return printLicenses()
	}

	if len(args) == 0 {
		cmd.Usage()
		return errors.New("no files given")
	}

	/* Config */

	uD, err := state.UploadDataFromViper(v, args)
	if err != nil {
		return fmt.Errorf("There was a problem reading the config file %s:\n%w", s.Addr(v.GetString("config")), err)
	}
	switch uD.Request.DnsResolver {
	case transport.ResolverSystem, transport.ResolverDNS:
	default:
		return fmt.Errorf("There was a problem reading the config file %s:\n%w", s.Addr(uD.ConfigFile), transport.UnknownResolverError(uD.Request.DnsResolver))
	}

	if err := uD.CheckFiles(); err != nil {
		return fmt.Errorf("Can't upload: %w", err)
	}

	fmt.Printf("Using uploader %s to connect to %s\n", s.Noun(uD.Uploader), s.Addr(uD.UploadURL))

	url, err := parser.UploadURL(uD.UploadURL)
	if err != nil {
		return fmt.Errorf("There was a problem reading the config file %s:\n%w", s.Addr(uD.ConfigFile), err)
	}

	if url.Protocol != "https" {
		b.PrintWarn(fmt.Sprintf("Sorry, %s is an unsupported protocol right now.", s.Noun(url.Protocol)))
		return nil
	}

	/* Connect */

	connData := state.NewConnData()

	if uD.DnsDNSSEC {
		connData.DnsDNSSECChecked = true
		connData.DnsDNSSECError = transport.CheckDNSSEC(uD.Request.ResolvConf, url.Hostname)
		log.Debug("DNSSEC check done", "host", url.Hostname, "error", connData.DnsDNSSECError)
	}

	ctx := context.Background()
	if uD.Request.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, uD.Request.Timeout)
		defer cancel()
	}

	sock := transport.NewSecureConn(url.Hostname, url.Port, uD.Request, connData)
	defer sock.Close()

	log.Debug("Connecting", "host", sock.Address(), "port", sock.Port(), "resolver", uD.Request.DnsResolver)
	err = sock.Connect(ctx)

	connData.Print(s, os.Stdout, uD.Request, url.Hostname)
	fmt.Println()

	if err != nil {
		log.Error("Connect failed", err, "stage", failedStage(err))
		return fmt.Errorf("There was a problem trying to connect to %s:\n%w", s.Addr(uD.UploadURL), err)
	}

	log.Info("Connected", "remote", sock.Handle().RemoteAddr().String(), "files", len(uD.Files))
	b.PrintInfo(fmt.Sprintf("Ready to upload %d file(s) to %s", len(uD.Files), s.Addr(url.HostPort()+url.Path)))

	return nil
}

func failedStage(err error) string {
	var resErr *transport.ResolutionError
	var connErr *transport.ConnectError
	var tlsErr *transport.TLSError
	switch {
	case errors.As(err, &resErr):
		return "resolve"
	case errors.As(err, &connErr):
		return "connect"
	case errors.As(err, &tlsErr):
		return "tls"
	default:
		return "unknown"
	}
}

func printLicenses() error {
	ls, err := licenses.All()
	if err != nil {
		return err
	}

	fmt.Println("The following licenses are for the application and libraries the application uses:")
	for _, l := range ls {
		fmt.Printf("%s\n\n", l.Text)
	}
	return nil
}
