package live

const SampleSchema = `{
  "type": "object",
  "properties": {
    "seq": { "type": "integer" },
    "t": { "type": "number" },
    "channel": { "type": "integer" },
    "value": { "type": "number" }
  },
  "required": ["seq", "t", "channel", "value"]
}`

const RecordSchema = `{
  "type": "object",
  "properties": {
    "seq": { "type": "integer" },
    "t": { "type": "number" },
    "raw": { "type": "array", "items": { "type": "integer" } },
    "values": { "type": "array", "items": { "type": "number" } }
  },
  "required": ["seq", "t", "values"]
}`

const LogSchema = `{
  "type": "object",
  "properties": {
    "timestamp": { "type": "object" },
    "level": { "type": "integer" },
    "message": { "type": "string" },
    "name": { "type": "string" },
    "file": { "type": "string" },
    "line": { "type": "integer" }
  }
}`

type Config struct {
	WSAddr string
	Name   string

	SampleTopic     string
	SampleChannelID uint64
	RecordTopic     string
	RecordChannelID uint64
	LogTopic        string
	LogChannelID    uint64
	LogName         string

	SendBuf int
}

func DefaultConfig() Config {
	return Config{
		WSAddr:          "127.0.0.1:8765",
		Name:            "cobsdaq",
		SampleTopic:     "cobsdaq/live",
		SampleChannelID: 1,
		RecordTopic:     "cobsdaq/record",
		RecordChannelID: 2,
		LogTopic:        "cobsdaq/log",
		LogChannelID:    3,
		LogName:         "synchronizer",
		SendBuf:         256,
	}
}

func (cfg Config) withDefaults() Config {
	def := DefaultConfig()
	if cfg.WSAddr == "" {
		cfg.WSAddr = def.WSAddr
	}
	if cfg.Name == "" {
		cfg.Name = def.Name
	}
	if cfg.SampleTopic == "" {
		cfg.SampleTopic = def.SampleTopic
	}
	if cfg.RecordTopic == "" {
		cfg.RecordTopic = def.RecordTopic
	}
	if cfg.LogTopic == "" {
		cfg.LogTopic = def.LogTopic
	}
	if cfg.LogName == "" {
		cfg.LogName = def.LogName
	}
	if cfg.SampleChannelID == 0 {
		cfg.SampleChannelID = def.SampleChannelID
	}
	if cfg.RecordChannelID == 0 || cfg.RecordChannelID == cfg.SampleChannelID {
		cfg.RecordChannelID = cfg.SampleChannelID + 1
	}
	if cfg.LogChannelID == 0 || cfg.LogChannelID == cfg.SampleChannelID || cfg.LogChannelID == cfg.RecordChannelID {
		cfg.LogChannelID = maxUint64(cfg.SampleChannelID, cfg.RecordChannelID) + 1
	}
	if cfg.SendBuf <= 0 {
		cfg.SendBuf = def.SendBuf
	}
	return cfg
}

func maxUint64(a uint64, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}
