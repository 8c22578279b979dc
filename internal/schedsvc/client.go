package schedsvc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/signalsfoundry/macsched/internal/mac"
)

// Schedule is the decoded GetSchedule response.
type Schedule struct {
	Frame      uint64
	Subcarrier int
	Action     int
	Users      []int
	UEMap      []uint8
}

// State is the decoded GetState response.
type State struct {
	LatestFrame uint64
	Action      int
	Users       []int
	Frames      uint64
	Fallbacks   uint64
	History     []float64
	LastSE      []float64
	Scheduled   []bool
	Fairness    float64
}

// Client is a typed macsched.v1.ScheduleQuery client. Returned errors wrap
// the scheduler sentinels, so errors.Is works across the wire.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) invoke(ctx context.Context, method string, req map[string]any) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(req)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out); err != nil {
		return nil, FromStatusError(err)
	}
	return out, nil
}

func (c *Client) GetSchedule(ctx context.Context, frame uint64, subcarrier int) (*Schedule, error) {
	out, err := c.invoke(ctx, getScheduleMethod, map[string]any{
		fieldFrame:      float64(frame),
		fieldSubcarrier: float64(subcarrier),
	})
	if err != nil {
		return nil, err
	}
	f := out.GetFields()
	s := &Schedule{
		Frame:      uint64(f["frame"].GetNumberValue()),
		Subcarrier: int(f["subcarrier"].GetNumberValue()),
		Action:     int(f["action"].GetNumberValue()),
		Users:      intsOf(f["users"]),
	}
	for _, v := range f["ue_map"].GetListValue().GetValues() {
		s.UEMap = append(s.UEMap, uint8(v.GetNumberValue()))
	}
	return s, nil
}

func (c *Client) IsScheduled(ctx context.Context, frame uint64, subcarrier, ue int) (bool, error) {
	out, err := c.invoke(ctx, isScheduledMethod, map[string]any{
		fieldFrame:      float64(frame),
		fieldSubcarrier: float64(subcarrier),
		fieldUE:         float64(ue),
	})
	if err != nil {
		return false, err
	}
	return out.GetFields()["scheduled"].GetBoolValue(), nil
}

func (c *Client) GetMcs(ctx context.Context, frame uint64, ue int, dir mac.Direction) (int, error) {
	out, err := c.invoke(ctx, getMcsMethod, map[string]any{
		fieldFrame:  float64(frame),
		fieldUE:     float64(ue),
		"direction": dir.String(),
	})
	if err != nil {
		return 0, err
	}
	return int(out.GetFields()["mcs"].GetNumberValue()), nil
}

// PublishCSI pushes the per-user estimate for frame to the server's CSI
// store.
func (c *Client) PublishCSI(ctx context.Context, frame uint64, values []float64) error {
	list := make([]any, len(values))
	for i, v := range values {
		list[i] = v
	}
	_, err := c.invoke(ctx, publishCSIMethod, map[string]any{
		fieldFrame:  float64(frame),
		fieldValues: list,
	})
	return err
}

func (c *Client) GetState(ctx context.Context) (*State, error) {
	out, err := c.invoke(ctx, getStateMethod, map[string]any{})
	if err != nil {
		return nil, err
	}
	f := out.GetFields()
	st := &State{
		LatestFrame: uint64(f["latest_frame"].GetNumberValue()),
		Action:      int(f["action"].GetNumberValue()),
		Users:       intsOf(f["users"]),
		Frames:      uint64(f["frames"].GetNumberValue()),
		Fallbacks:   uint64(f["fallbacks"].GetNumberValue()),
		History:     floatsOf(f["history"]),
		LastSE:      floatsOf(f["last_se"]),
		Fairness:    f["fairness"].GetNumberValue(),
	}
	for _, v := range f["scheduled"].GetListValue().GetValues() {
		st.Scheduled = append(st.Scheduled, v.GetBoolValue())
	}
	return st, nil
}

func intsOf(v *structpb.Value) []int {
	vals := v.GetListValue().GetValues()
	out := make([]int, len(vals))
	for i, x := range vals {
		out[i] = int(x.GetNumberValue())
	}
	return out
}

func floatsOf(v *structpb.Value) []float64 {
	vals := v.GetListValue().GetValues()
	out := make([]float64, len(vals))
	for i, x := range vals {
		out[i] = x.GetNumberValue()
	}
	return out
}
