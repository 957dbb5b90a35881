// Package config loads quip.Options from a configuration file and the
// environment.
//
// Settings live under a "client" section. INI, YAML, TOML and JSON files are
// accepted; ".conf" files are read as INI. Every key can be overridden with
// an environment variable named QUIP_CLIENT_<KEY>, for example
// QUIP_CLIENT_TCP=22013.
//
//	[client]
//	verify = 1
//	download_directory = Downloads
//	tcp = 22012
//	directory = 127.0.0.1:8822
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/cbrunker/quip"
)

// Section is the configuration section holding client settings.
const Section = "client"

// EnvPrefix prefixes environment overrides.
const EnvPrefix = "QUIP"

// Keys recognised in the client section.
const (
	KeyVerify             = "verify"
	KeyDownloadDirectory  = "download_directory"
	KeyMaxChunk           = "max_chunk"
	KeyBlockSize          = "block_size"
	KeyMaxFileSize        = "max_file_size"
	KeyRequestExpiry      = "request_expiry"
	KeyFileExpiry         = "file_expiry"
	KeyHost               = "host"
	KeyTCP                = "tcp"
	KeyIdleTimeout        = "idle_timeout"
	KeyMessageSkew        = "message_skew"
	KeySessionBoundChains = "session_bound_chains"
	KeyUPnP               = "upnp"
	KeyCertFile           = "cert_file"
	KeyKeyFile            = "key_file"
	KeyDirectory          = "directory"
	KeyDataDirectory      = "data_directory"
	KeyLogLevel           = "log_level"
)

const day = 24 * time.Hour

// Load reads path and returns the resulting options. A missing file is not
// an error: defaults and environment overrides apply. Integer and boolean
// values that do not parse are replaced by their default with a warning.
func Load(path string) (*quip.Options, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
		if t := configType(path); t != "" {
			v.SetConfigType(t)
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
			logrus.WithFields(logrus.Fields{
				"function": "Load",
				"path":     path,
			}).Info("No config file found, using defaults")
		}
	}

	def := quip.NewOptions()
	l := loader{v: v}
	opts := quip.NewOptions()
	opts.Verify = l.boolean(KeyVerify, def.Verify)
	opts.DownloadDirectory = l.str(KeyDownloadDirectory, def.DownloadDirectory)
	opts.MaxChunk = l.integer(KeyMaxChunk, def.MaxChunk)
	opts.BlockSize = l.integer(KeyBlockSize, def.BlockSize)
	opts.MaxFileSize = int64(l.integer(KeyMaxFileSize, int(def.MaxFileSize)))
	opts.RequestExpiry = time.Duration(l.integer(KeyRequestExpiry, int(def.RequestExpiry/day))) * day
	opts.FileExpiry = time.Duration(l.integer(KeyFileExpiry, int(def.FileExpiry/day))) * day
	opts.Host = l.str(KeyHost, def.Host)
	opts.TCPPort = l.integer(KeyTCP, def.TCPPort)
	opts.IdleTimeout = time.Duration(l.integer(KeyIdleTimeout, int(def.IdleTimeout/time.Second))) * time.Second
	opts.MessageSkew = time.Duration(l.integer(KeyMessageSkew, int(def.MessageSkew/time.Second))) * time.Second
	opts.SessionBoundChains = l.boolean(KeySessionBoundChains, def.SessionBoundChains)
	opts.UPnP = l.boolean(KeyUPnP, def.UPnP)
	opts.CertFile = l.str(KeyCertFile, def.CertFile)
	opts.KeyFile = l.str(KeyKeyFile, def.KeyFile)
	opts.DirectoryAddress = l.str(KeyDirectory, def.DirectoryAddress)
	opts.DataDirectory = l.str(KeyDataDirectory, def.DataDirectory)
	opts.LogLevel = l.str(KeyLogLevel, def.LogLevel)

	if opts.TCPPort <= 0 || opts.TCPPort > 65535 {
		l.invalid(KeyTCP, strconv.Itoa(opts.TCPPort), def.TCPPort)
		opts.TCPPort = def.TCPPort
	}
	return opts, nil
}

// Save writes opts to path in the format implied by its extension.
func Save(path string, opts *quip.Options) error {
	v := viper.New()
	set := func(key string, value any) { v.Set(Section+"."+key, value) }
	set(KeyVerify, opts.Verify)
	set(KeyDownloadDirectory, opts.DownloadDirectory)
	set(KeyMaxChunk, opts.MaxChunk)
	set(KeyBlockSize, opts.BlockSize)
	set(KeyMaxFileSize, opts.MaxFileSize)
	set(KeyRequestExpiry, int(opts.RequestExpiry/day))
	set(KeyFileExpiry, int(opts.FileExpiry/day))
	set(KeyHost, opts.Host)
	set(KeyTCP, opts.TCPPort)
	set(KeyIdleTimeout, int(opts.IdleTimeout/time.Second))
	set(KeyMessageSkew, int(opts.MessageSkew/time.Second))
	set(KeySessionBoundChains, opts.SessionBoundChains)
	set(KeyUPnP, opts.UPnP)
	set(KeyCertFile, opts.CertFile)
	set(KeyKeyFile, opts.KeyFile)
	set(KeyDirectory, opts.DirectoryAddress)
	set(KeyDataDirectory, opts.DataDirectory)
	set(KeyLogLevel, opts.LogLevel)

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return err
		}
	}
	if t := configType(path); t != "" {
		v.SetConfigType(t)
	}
	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// configType maps extensions viper does not know to a format.
func configType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".conf", ".cfg":
		return "ini"
	case ".yml":
		return "yaml"
	}
	return ""
}

type loader struct {
	v *viper.Viper
}

func (l loader) raw(key string) (string, bool) {
	k := Section + "." + key
	if !l.v.IsSet(k) {
		return "", false
	}
	return strings.TrimSpace(l.v.GetString(k)), true
}

func (l loader) str(key, def string) string {
	if s, ok := l.raw(key); ok {
		return s
	}
	return def
}

func (l loader) integer(key string, def int) int {
	s, ok := l.raw(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		l.invalid(key, s, def)
		return def
	}
	return n
}

func (l loader) boolean(key string, def bool) bool {
	s, ok := l.raw(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		l.invalid(key, s, def)
		return def
	}
	return b
}

func (l loader) invalid(key, value string, def any) {
	logrus.WithFields(logrus.Fields{
		"function": "Load",
		"item":     key,
		"value":    value,
		"default":  def,
	}).Warn("Invalid config value, using default")
}
