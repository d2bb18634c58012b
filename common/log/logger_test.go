package log

import (
	"bytes"
	"encoding/json"
	"os"
	"path"
	"testing"

	"github.com/inconshreveable/log15"
	"github.com/mattn/go-colorable"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestSetLogger(t *testing.T) {
	filePath := path.Join(t.TempDir(), "logs")
	errorFile := path.Join(filePath, "error.json")
	if _, err := CreateDirIfMissing(filePath); err != nil {
		t.Fatal(err)
	}

	log := log15.New("setLogger", "test")
	logLvl := log15.LvlDebug
	log.SetHandler(log15.SyncHandler(log15.MultiHandler(
		log15.LvlFilterHandler(log15.LvlError, log15.Must.FileHandler(errorFile, log15.JsonFormat())),
		log15.LvlFilterHandler(logLvl, log15.StreamHandler(colorable.NewColorableStderr(), log15.TerminalFormat())),
	)))

	SetLogger(&DefaultLogger{Logger: log})
	defer SetLogger(nil)
	GetLogger().Info("The logger are so cool!", "errorFilePath", errorFile)
	GetLogger().Error("written to the error file", "code", 7)

	raw, err := os.ReadFile(errorFile)
	require.NoError(t, err)
	var rec map[string]interface{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(raw), &rec))
	assert.Equal(t, "written to the error file", rec["msg"])
	assert.EqualValues(t, 7, rec["code"])
}

func TestInitPropagatesToExistingLoggers(t *testing.T) {
	l := GetLogger("module", "test")
	var buf bytes.Buffer
	root.SetHandler(log15.LvlFilterHandler(log15.LvlInfo, log15.StreamHandler(&buf, log15.LogfmtFormat())))
	defer Discard()

	l.Debug("hidden")
	l.Info("shown", "view", 3)
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
	assert.Contains(t, buf.String(), "module=test")
	assert.Contains(t, buf.String(), "view=3")
}

func TestInitRejectsBadLevel(t *testing.T) {
	assert.Error(t, Init(Config{Level: "loud"}))
}

func TestZapHandler(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := log15.New("module", "zap")
	l.SetHandler(zapHandler(zap.New(core).Sugar()))

	(&DefaultLogger{Logger: l}).Warning("slow peer", "peer", 2)
	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, zapcore.WarnLevel, entry.Level)
	assert.Equal(t, "slow peer", entry.Message)
	assert.EqualValues(t, 2, entry.ContextMap()["peer"])
	assert.Equal(t, "zap", entry.ContextMap()["module"])
}
