package ocrsession

import (
	"flag"
	"os"
	"time"

	"github.com/pkg/errors"
)

// EngineConfig carries everything the recognition side needs: which
// backend to use, how long a single attempt may run, and where image
// blobs live on disk.
type EngineConfig struct {
	EngineType      EngineType
	AttemptTimeout  time.Duration
	RemoteAPIURL    string
	RemoteAPIKey    string
	DefaultLanguage string
	BlobDir         string
	SaveFiles       bool
	Debug           bool
}

func DefaultEngineConfig() EngineConfig {

	engineConfig := EngineConfig{
		EngineType:      EngineTesseract,
		AttemptTimeout:  30 * time.Second,
		RemoteAPIURL:    "https://api.ocr.space/parse/image",
		RemoteAPIKey:    os.Getenv("OCRSPACE_API_KEY"),
		DefaultLanguage: "eng",
		BlobDir:         filepathJoinTemp("overlay-ocr-blobs"),
		SaveFiles:       false,
		Debug:           false,
	}
	if engineConfig.RemoteAPIKey == "" {
		// the public demo key, heavily rate limited but usable
		engineConfig.RemoteAPIKey = "helloworld"
	}
	return engineConfig

}

func filepathJoinTemp(dir string) string {
	return os.TempDir() + string(os.PathSeparator) + dir
}

type FlagFunctionEngine func()

func NoOpFlagFunctionEngine() FlagFunctionEngine {
	return func() {}
}

func DefaultConfigFlagsEngineOverride(flagFunction FlagFunctionEngine) (EngineConfig, error) {
	engineConfig := DefaultEngineConfig()

	flagFunction()
	var (
		engineName     string
		attemptTimeout time.Duration
		remoteAPIURL   string
		remoteAPIKey   string
		lang           string
		blobDir        string
		saveFiles      bool
		debug          bool
	)
	flag.StringVar(
		&engineName,
		"engine",
		"",
		"recognition backend to use, one of {tesseract,remote,rpc,mock}",
	)
	flag.DurationVar(
		&attemptTimeout,
		"attempt_timeout",
		0,
		"upper bound for a single recognition attempt, eg: 30s",
	)
	flag.StringVar(
		&remoteAPIURL,
		"remote_api_url",
		"",
		"OCR.space compatible endpoint for the remote engine",
	)
	flag.StringVar(
		&remoteAPIKey,
		"remote_api_key",
		"",
		"api key for the remote engine, overrides OCRSPACE_API_KEY",
	)
	flag.StringVar(
		&lang,
		"lang",
		"",
		"default recognition language code, eg: eng",
	)
	flag.StringVar(
		&blobDir,
		"blob_dir",
		"",
		"directory for uploaded image bytes",
	)
	flag.BoolVar(
		&saveFiles,
		"save_files",
		false,
		"if set there will be no clean up of temporary files",
	)
	flag.BoolVar(
		&debug,
		"debug",
		false,
		"sets debug flag, program will print more messages",
	)

	flag.Parse()
	if len(engineName) > 0 {
		switch engineName {
		case "tesseract":
			engineConfig.EngineType = EngineTesseract
		case "remote":
			engineConfig.EngineType = EngineRemote
		case "rpc":
			engineConfig.EngineType = EngineRPC
		case "mock":
			engineConfig.EngineType = EngineMock
		default:
			return engineConfig, errors.New("please choose tesseract, remote, rpc or mock as engine")
		}
	}
	if attemptTimeout > 0 {
		engineConfig.AttemptTimeout = attemptTimeout
	}
	if len(remoteAPIURL) > 0 {
		engineConfig.RemoteAPIURL = remoteAPIURL
	}
	if len(remoteAPIKey) > 0 {
		engineConfig.RemoteAPIKey = remoteAPIKey
	}
	if len(lang) > 0 {
		engineConfig.DefaultLanguage = lang
	}
	if len(blobDir) > 0 {
		engineConfig.BlobDir = blobDir
	}
	engineConfig.SaveFiles = saveFiles
	engineConfig.Debug = debug
	return engineConfig, nil
}
