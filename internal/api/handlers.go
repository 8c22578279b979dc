package api

import (
	"fmt"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/signalsfoundry/macsched/internal/csi"
	"github.com/signalsfoundry/macsched/internal/mac"
	"github.com/signalsfoundry/macsched/internal/pipeline"
)

// StatusSource provides the pipeline snapshot.
type StatusSource interface {
	Status() pipeline.Status
	Summary() pipeline.Summary
}

// Handler serves schedule lookups, run state and pushed CSI.
type Handler struct {
	sched     *mac.Scheduler
	status    StatusSource
	publisher csi.Publisher
	started   time.Time
}

// HandlerOption customises a Handler.
type HandlerOption func(*Handler)

// WithCSIPublisher enables POST /frames/:frame/csi, storing estimates in p.
func WithCSIPublisher(p csi.Publisher) HandlerOption {
	return func(h *Handler) { h.publisher = p }
}

func NewHandler(sched *mac.Scheduler, status StatusSource, opts ...HandlerOption) *Handler {
	h := &Handler{sched: sched, status: status, started: time.Now()}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type csiRequest struct {
	Values []float64 `json:"values" binding:"required"`
}

type scheduleView struct {
	Frame      uint64  `json:"frame"`
	Subcarrier int     `json:"subcarrier"`
	Action     int     `json:"action"`
	Users      []int32 `json:"users"`
	UEMap      []int   `json:"ue_map"`
}

type ueView struct {
	Frame       uint64 `json:"frame"`
	UE          int    `json:"ue"`
	Subcarrier  int    `json:"subcarrier"`
	Scheduled   bool   `json:"scheduled"`
	UplinkMcs   int    `json:"uplink_mcs"`
	DownlinkMcs int    `json:"downlink_mcs"`
}

type statusView struct {
	LatestFrame uint64    `json:"latest_frame"`
	HasFrame    bool      `json:"has_frame"`
	Action      int       `json:"action"`
	Users       []int32   `json:"users"`
	Frames      uint64    `json:"frames"`
	Fallbacks   uint64    `json:"fallbacks"`
	History     []float64 `json:"history"`
	LastSE      []float64 `json:"last_se"`
	Scheduled   []bool    `json:"scheduled"`
	Fairness    float64   `json:"fairness"`
	Grants      []uint64  `json:"grants"`
	GrantedSE   []float64 `json:"granted_se"`
}

type actionView struct {
	ID    int     `json:"id"`
	Users []int32 `json:"users"`
}

// Health reports liveness and the newest committed frame.
func (h *Handler) Health(c *gin.Context) {
	body := gin.H{
		"status": "up",
		"uptime": time.Since(h.started).Round(time.Second).String(),
	}
	if f, ok := h.sched.LatestFrame(); ok {
		body["latest_frame"] = f
	}
	success(c, body)
}

// Schedule serves GET /frames/:frame/schedule?subcarrier=N.
func (h *Handler) Schedule(c *gin.Context) {
	frame, ok := frameParam(c)
	if !ok {
		return
	}
	sc, ok := intQuery(c, "subcarrier", 0)
	if !ok {
		return
	}
	action, err := h.sched.ActionFor(frame)
	if err != nil {
		failErr(c, err)
		return
	}
	users, err := h.sched.ScheduledUsers(frame, sc)
	if err != nil {
		failErr(c, err)
		return
	}
	m, err := h.sched.ScheduledMap(frame, sc)
	if err != nil {
		failErr(c, err)
		return
	}
	ueMap := make([]int, len(m))
	for u, v := range m {
		ueMap[u] = int(v)
	}
	success(c, scheduleView{
		Frame:      frame,
		Subcarrier: sc,
		Action:     action,
		Users:      append([]int32(nil), users...),
		UEMap:      ueMap,
	})
}

// UE serves GET /frames/:frame/ues/:ue?subcarrier=N.
func (h *Handler) UE(c *gin.Context) {
	frame, ok := frameParam(c)
	if !ok {
		return
	}
	ue, err := strconv.Atoi(c.Param("ue"))
	if err != nil {
		fail(c, CodeInvalid, fmt.Sprintf("ue %q is not an integer", c.Param("ue")))
		return
	}
	sc, ok := intQuery(c, "subcarrier", 0)
	if !ok {
		return
	}
	in, err := h.sched.IsScheduled(frame, sc, ue)
	if err != nil {
		failErr(c, err)
		return
	}
	ul, err := h.sched.McsFor(frame, ue, mac.Uplink)
	if err != nil {
		failErr(c, err)
		return
	}
	dl, err := h.sched.McsFor(frame, ue, mac.Downlink)
	if err != nil {
		failErr(c, err)
		return
	}
	success(c, ueView{Frame: frame, UE: ue, Subcarrier: sc, Scheduled: in, UplinkMcs: ul, DownlinkMcs: dl})
}

// PublishCSI serves POST /frames/:frame/csi with body {"values": [...]}.
func (h *Handler) PublishCSI(c *gin.Context) {
	if h.publisher == nil {
		fail(c, CodeConflict, "csi source does not accept pushed estimates")
		return
	}
	frame, ok := frameParam(c)
	if !ok {
		return
	}
	var req csiRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, CodeInvalid, fmt.Sprintf("invalid csi body: %v", err))
		return
	}
	if err := mac.ValidateCSI(req.Values, h.sched.Config().UEs); err != nil {
		failErr(c, err)
		return
	}
	if err := h.publisher.Publish(frame, req.Values); err != nil {
		failErr(c, err)
		return
	}
	success(c, gin.H{"frame": frame, "accepted": true})
}

// Status serves GET /status.
func (h *Handler) Status(c *gin.Context) {
	if h.status == nil {
		fail(c, CodeUnavailable, "no frame pipeline attached")
		return
	}
	st := h.status.Status()
	sum := h.status.Summary()
	success(c, statusView{
		LatestFrame: st.LatestFrame,
		HasFrame:    st.HasFrame,
		Action:      st.Action,
		Users:       st.Users,
		Frames:      st.Frames,
		Fallbacks:   st.Fallbacks,
		History:     st.History,
		LastSE:      st.LastSE,
		Scheduled:   st.Scheduled,
		Fairness:    st.Fairness,
		Grants:      sum.Grants,
		GrantedSE:   sum.GrantedSE,
	})
}

// Actions serves GET /actions?offset=N&limit=M.
func (h *Handler) Actions(c *gin.Context) {
	set := h.sched.Actions()
	offset, ok := intQuery(c, "offset", 0)
	if !ok {
		return
	}
	limit, ok := intQuery(c, "limit", 100)
	if !ok {
		return
	}
	if offset < 0 || limit <= 0 {
		fail(c, CodeInvalid, "offset must be >= 0 and limit > 0")
		return
	}
	out := make([]actionView, 0, min(limit, max(set.Len()-offset, 0)))
	for id := offset; id < set.Len() && len(out) < limit; id++ {
		out = append(out, actionView{ID: id, Users: append([]int32(nil), set.Users(id)...)})
	}
	success(c, gin.H{
		"total":   set.Len(),
		"offset":  offset,
		"actions": out,
	})
}

func frameParam(c *gin.Context) (uint64, bool) {
	frame, err := strconv.ParseUint(c.Param("frame"), 10, 64)
	if err != nil {
		fail(c, CodeInvalid, fmt.Sprintf("frame %q is not a non-negative integer", c.Param("frame")))
		return 0, false
	}
	return frame, true
}

func intQuery(c *gin.Context, key string, def int) (int, bool) {
	raw, ok := c.GetQuery(key)
	if !ok {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		fail(c, CodeInvalid, fmt.Sprintf("%s %q is not an integer", key, raw))
		return 0, false
	}
	return v, true
}
