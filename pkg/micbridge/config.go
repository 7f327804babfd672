package micbridge

import (
	"fmt"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/micbridge/micbridge/pkg/micbridge/util"
)

type ConfigManager struct {
	logger             *zap.SugaredLogger
	notifier           Notifier
	stopWatcherChannel chan bool

	reloadConsumers []chan bool

	userConfig *viper.Viper
	validate   *validator.Validate

	current Config
}

type DevicesConfig struct {
	// exact friendly names, as shown in the OS sound settings
	Microphone   string `mapstructure:"microphone" validate:"required"`
	CableRender  string `mapstructure:"cable_render" validate:"required"`
	CableCapture string `mapstructure:"cable_capture" validate:"required"`
}

type AutoSwitchConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	TargetProcess  string `mapstructure:"target_process" validate:"required"`
	PollIntervalMs uint   `mapstructure:"poll_interval_ms" validate:"gte=100,lte=10000"`
	GracePeriodMs  uint   `mapstructure:"grace_period_ms" validate:"lte=60000"`
}

type Config struct {
	Devices    DevicesConfig    `mapstructure:"devices"`
	AutoSwitch AutoSwitchConfig `mapstructure:"auto_switch"`

	DisableTray bool `mapstructure:"disable_tray"`
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.AutoSwitch.PollIntervalMs) * time.Millisecond
}

func (c *Config) GracePeriod() time.Duration {
	return time.Duration(c.AutoSwitch.GracePeriodMs) * time.Millisecond
}

const (
	userConfigFilepath = "config.yaml"

	userConfigName = "config"
	userConfigPath = "."
	configType     = "yaml"

	configKeyDevices    = "devices"
	configKeyAutoSwitch = "auto_switch"

	// the VB-Cable device pair most installs use
	defaultCableRender  = "CABLE Input (VB-Audio Virtual Cable)"
	defaultCableCapture = "CABLE Output (VB-Audio Virtual Cable)"

	// the Phone Link host process that carries calls on Windows
	defaultTargetProcess = "PhoneExperienceHost.exe"
)

func NewConfig(logger *zap.SugaredLogger, notifier Notifier) (*ConfigManager, error) {
	logger = logger.Named("config")

	cc := &ConfigManager{
		logger:             logger,
		notifier:           notifier,
		reloadConsumers:    []chan bool{},
		stopWatcherChannel: make(chan bool),
		validate:           validator.New(),
	}

	userConfig := viper.New()
	userConfig.SetConfigName(userConfigName)
	userConfig.SetConfigType(configType)
	userConfig.AddConfigPath(userConfigPath)

	userConfig.SetDefault(configKeyDevices+".cable_render", defaultCableRender)
	userConfig.SetDefault(configKeyDevices+".cable_capture", defaultCableCapture)
	userConfig.SetDefault(configKeyAutoSwitch+".enabled", true)
	userConfig.SetDefault(configKeyAutoSwitch+".target_process", defaultTargetProcess)
	userConfig.SetDefault(configKeyAutoSwitch+".poll_interval_ms", 500)
	userConfig.SetDefault(configKeyAutoSwitch+".grace_period_ms", 0)

	cc.userConfig = userConfig

	logger.Debug("Created config instance")

	return cc, nil
}

func (cc *ConfigManager) Load() error {
	cc.logger.Debugw("Loading config", "path", userConfigFilepath)

	// make sure it exists
	if !util.FileExists(userConfigFilepath) {
		cc.logger.Warnw("Config file not found", "path", userConfigFilepath)
		cc.notifier.Notify("Can't find configuration!",
			fmt.Sprintf("%s must be in the same directory as micbridge. Please re-launch", userConfigFilepath))

		return fmt.Errorf("config file doesn't exist: %s", userConfigFilepath)
	}

	if err := cc.userConfig.ReadInConfig(); err != nil {
		cc.logger.Warnw("Viper failed to read user config", "error", err)

		// if the error is yaml-format-related, show a sensible error. otherwise, show 'em to the logs
		if strings.Contains(err.Error(), "yaml:") {
			cc.notifier.Notify("Invalid configuration!",
				fmt.Sprintf("Please make sure %s is in a valid YAML format.", userConfigFilepath))
		} else {
			cc.notifier.Notify("Error loading configuration!", "Please check micbridge's logs for more details.")
		}

		return fmt.Errorf("read user config: %w", err)
	}

	if err := cc.populateFromViper(); err != nil {
		cc.logger.Warnw("Failed to populate config fields", "error", err)
		cc.notifier.Notify("Invalid configuration!", "Please check micbridge's logs for more details.")
		return fmt.Errorf("populate config fields: %w", err)
	}

	cc.logger.Info("Loaded config successfully")
	cc.logger.Infow("Config values",
		"microphone", cc.current.Devices.Microphone,
		"cableRender", cc.current.Devices.CableRender,
		"cableCapture", cc.current.Devices.CableCapture,
		"autoSwitchEnabled", cc.current.AutoSwitch.Enabled,
		"targetProcess", cc.current.AutoSwitch.TargetProcess,
		"pollIntervalMs", cc.current.AutoSwitch.PollIntervalMs,
		"gracePeriodMs", cc.current.AutoSwitch.GracePeriodMs)

	return nil
}

// SubscribeToChanges allows external components to receive updates when the config is reloaded
func (cc *ConfigManager) SubscribeToChanges() chan bool {
	c := make(chan bool)
	cc.reloadConsumers = append(cc.reloadConsumers, c)

	return c
}

// WatchConfigFileChanges starts watching for configuration file changes
// and attempts reloading the config when they happen
func (cc *ConfigManager) WatchConfigFileChanges() {
	cc.logger.Debugw("Starting to watch user config file for changes", "path", userConfigFilepath)

	const (
		minTimeBetweenReloadAttempts = time.Millisecond * 500
		delayBetweenEventAndReload   = time.Millisecond * 50
	)

	lastAttemptedReload := time.Now()

	// establish watch using viper as opposed to doing it ourselves, though our internal cooldown is still required
	cc.userConfig.WatchConfig()
	cc.userConfig.OnConfigChange(func(event fsnotify.Event) {
		if event.Op&fsnotify.Write == fsnotify.Write {
			now := time.Now()

			// ... check if it's not a duplicate (many editors will write to a file twice)
			if lastAttemptedReload.Add(minTimeBetweenReloadAttempts).Before(now) {
				cc.logger.Debugw("Config file modified, attempting reload", "event", event)

				// wait a bit to let the editor actually flush the new file contents to disk
				<-time.After(delayBetweenEventAndReload)

				if err := cc.Load(); err != nil {
					cc.logger.Warnw("Failed to reload config file", "error", err)
				} else {
					cc.logger.Info("Reloaded config successfully")
					cc.notifier.Notify("Configuration reloaded!", "Your changes have been applied.")

					cc.onConfigReloaded()
				}

				// don't forget to update the time
				lastAttemptedReload = now
			}
		}
	})

	// wait till they stop us
	<-cc.stopWatcherChannel
	cc.logger.Debug("Stopping user config file watcher")
	cc.userConfig.OnConfigChange(nil)
}

// StopWatchingConfigFile signals our filesystem watcher to stop
func (cc *ConfigManager) StopWatchingConfigFile() {
	cc.stopWatcherChannel <- true
}

func (cc *ConfigManager) populateFromViper() error {
	err := cc.userConfig.Unmarshal(&cc.current, func(dConf *mapstructure.DecoderConfig) {
		dConf.WeaklyTypedInput = false
	})
	if err != nil {
		return err
	}

	if err := cc.validate.Struct(&cc.current); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	cc.logger.Debug("Populated config fields from viper")

	return nil
}

func (cc *ConfigManager) onConfigReloaded() {
	cc.logger.Debug("Notifying consumers about configuration reload")

	for _, consumer := range cc.reloadConsumers {
		consumer <- true
	}
}
