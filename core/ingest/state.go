package ingest

import (
	"errors"
	"fmt"
	"time"

	"Melodex/logger"
	"Melodex/metrics"
	"Melodex/model"
)

// State 入库状态
type State string

const (
	StateReceived          State = "received"
	StateMetadataExtracted State = "metadata_extracted"
	StateRecordPersisted   State = "record_persisted"
	StateAssetUploaded     State = "asset_uploaded"
	StateComplete          State = "complete"
	StateFailed            State = "failed"
)

// next 合法的前进迁移，failed 可以从任意非终态进入
var next = map[State]State{
	StateReceived:          StateMetadataExtracted,
	StateMetadataExtracted: StateRecordPersisted,
	StateRecordPersisted:   StateAssetUploaded,
	StateAssetUploaded:     StateComplete,
}

var errIllegalTransition = errors.New("illegal ingest state transition")

// Terminal 是否为终态
func (s State) Terminal() bool {
	return s == StateComplete || s == StateFailed
}

// run 一次入库（或重试）的状态跟踪
type run struct {
	events   EventPublisher
	filename string
	songID   string
	state    State
	started  time.Time
}

func newRun(events EventPublisher, filename string) *run {
	r := &run{events: events, filename: filename, started: time.Now()}
	r.enter(StateReceived, "")
	return r
}

// resume 从已持久化的记录继续（重试上传）
func resume(events EventPublisher, filename, songID string) *run {
	r := &run{events: events, filename: filename, songID: songID, state: StateRecordPersisted, started: time.Now()}
	return r
}

// advance 前进到下一个状态，非法迁移让本次运行进入 failed
func (r *run) advance(to State) error {
	if next[r.state] != to {
		err := fmt.Errorf("%w: %s -> %s", errIllegalTransition, r.state, to)
		logger.Error("入库状态迁移非法",
			logger.String("songId", r.songID),
			logger.String("from", string(r.state)),
			logger.String("to", string(to)))
		return r.fail(err)
	}
	r.enter(to, "")
	return nil
}

// fail 进入 failed 状态并返回原错误
func (r *run) fail(err error) error {
	if r.state.Terminal() {
		return err
	}
	kind := string(model.KindOf(err))
	if kind == "" {
		kind = "unknown"
		if errors.Is(err, errCancelled) {
			kind = "cancelled"
		}
	}
	metrics.RecordIngestFailure(kind)
	logger.Warn("入库失败",
		logger.String("songId", r.songID),
		logger.String("filename", r.filename),
		logger.String("from", string(r.state)),
		logger.String("kind", kind),
		logger.ErrorField(err))
	r.enter(StateFailed, err.Error())
	return err
}

func (r *run) enter(state State, errMsg string) {
	r.state = state
	metrics.RecordTransition(string(state))
	logger.Info("入库状态变化",
		logger.String("songId", r.songID),
		logger.String("filename", r.filename),
		logger.String("state", string(state)))
	if r.events != nil {
		r.events.Publish(Event{
			SongID:   r.songID,
			Filename: r.filename,
			State:    state,
			Error:    errMsg,
			At:       time.Now(),
		})
	}
}
