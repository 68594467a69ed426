package state

import (
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/mt-inside/http-log/pkg/codec"
	"github.com/spf13/viper"
	"github.com/tetratelabs/telemetry/scope"
)

var log = scope.Register("state", "Settings and connection records")

const DefaultConfigFile = "kittehuplodah.ini"

// RequestData is everything the secure connection needs to know, beyond where to connect to.
type RequestData struct {
	// Bounds the whole of resolve+connect+handshake, and each individual dial. 0 means no bound.
	Timeout time.Duration
	// Deadline for each Read or Write once connected. 0 means no deadline.
	IOTimeout time.Duration

	DnsResolver string
	ResolvConf  string

	// Extra roots to trust; if empty, the system's are used
	TlsServingCAs []*x509.Certificate
	TlsInsecure   bool
}

// UploadData is the program's settings, built once from the config file and flags and passed down explicitly.
type UploadData struct {
	ConfigFile string
	Uploader   string
	UploadURL  string

	DnsDNSSEC bool

	Files []string

	Request *RequestData
}

type ConfigError struct {
	File string
	Err  error
}

func (e *ConfigError) Error() string { return e.Err.Error() }
func (e *ConfigError) Unwrap() error { return e.Err }

// UploadDataFromViper reads the INI file named by the "config" key into v, then pulls everything out.
// Flags are expected to be bound under "default.<name>", so an explicit flag beats the file, which beats the flag default.
//
//	[default]
//	uploader = teknik
//
//	[teknik]
//	url = https://api.teknik.io/v1/Upload
func UploadDataFromViper(v *viper.Viper, files []string) (*UploadData, error) {
	cf := v.GetString("config")
	if cf == "" {
		cf = DefaultConfigFile
	}
	cfgErr := func(format string, a ...any) error {
		return &ConfigError{File: cf, Err: fmt.Errorf(format, a...)}
	}

	v.SetConfigFile(cf)
	v.SetConfigType("ini")
	if err := v.ReadInConfig(); err != nil {
		return nil, cfgErr("there was an error reading config '%s': %w", cf, err)
	}
	log.Debug("Read config file", "path", v.ConfigFileUsed())

	uploader := v.GetString("default.uploader")
	if uploader == "" {
		return nil, cfgErr("cannot have unknown value for 'uploader' config option")
	}

	url := v.GetString(uploader + ".url")
	if url == "" {
		return nil, cfgErr("cannot have unknown value for 'url' config option (in section [%s])", uploader)
	}

	uD := &UploadData{
		ConfigFile: cf,
		Uploader:   uploader,
		UploadURL:  url,
		DnsDNSSEC:  v.GetBool("default.dnssec"),
		Files:      files,
		Request: &RequestData{
			Timeout:     v.GetDuration("default.timeout"),
			IOTimeout:   v.GetDuration("default.io-timeout"),
			DnsResolver: v.GetString("default.resolver"),
			ResolvConf:  v.GetString("default.resolv-conf"),
			TlsInsecure: v.GetBool("default.insecure"),
		},
	}
	if uD.Request.Timeout < 0 || uD.Request.IOTimeout < 0 {
		return nil, cfgErr("timeouts can't be negative")
	}

	/* Load TLS material */

	for _, caPath := range v.GetStringSlice("default.ca") {
		bytes, err := os.ReadFile(caPath)
		if err != nil {
			return nil, cfgErr("can't read CA file: %w", err)
		}
		ca, err := codec.ParseCertificate(bytes)
		// PEM that isn't a certificate comes back as nil, nil
		if err == nil && ca == nil {
			err = errors.New("not an X.509 certificate")
		}
		if err != nil {
			return nil, cfgErr("can't parse CA file %s: %w", caPath, err)
		}
		uD.Request.TlsServingCAs = append(uD.Request.TlsServingCAs, ca)
	}

	log.Debug("Settings", "dump", spew.Sdump(uD))

	return uD, nil
}

// CheckFiles makes sure everything we've been asked to upload is actually there, before we go near the network.
func (uD *UploadData) CheckFiles() error {
	if len(uD.Files) == 0 {
		return errors.New("no files given")
	}
	for _, f := range uD.Files {
		fi, err := os.Stat(f)
		if err != nil {
			return err
		}
		if fi.IsDir() {
			return fmt.Errorf("%s: is a directory", f)
		}
	}
	return nil
}
