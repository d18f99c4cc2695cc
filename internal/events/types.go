package events

import "fmt"

// EventType is the type tag stored in the packet header.
type EventType int16

const (
	SpecialEvent   EventType = 0
	PolarityEvent  EventType = 1
	FrameEvent     EventType = 2
	IMU6Event      EventType = 3
	IMU9Event      EventType = 4
	SampleEvent    EventType = 5
	EarEvent       EventType = 6
	ConfigEvent    EventType = 7
	Point1DEvent   EventType = 8
	Point2DEvent   EventType = 9
	Point3DEvent   EventType = 10
	Point4DEvent   EventType = 11
	SpikeEvent     EventType = 12
	Matrix4x4Event EventType = 13
)

var eventTypeNames = map[EventType]string{
	SpecialEvent:   "Special Event",
	PolarityEvent:  "Polarity Event",
	FrameEvent:     "Frame Event",
	IMU6Event:      "IMU6 Event",
	IMU9Event:      "IMU9 Event",
	SampleEvent:    "Sample Event",
	EarEvent:       "Ear Event",
	ConfigEvent:    "Config Event",
	Point1DEvent:   "Point1D Event",
	Point2DEvent:   "Point2D Event",
	Point3DEvent:   "Point3D Event",
	Point4DEvent:   "Point4D Event",
	SpikeEvent:     "Spike Event",
	Matrix4x4Event: "Matrix4x4 Event",
}

func (t EventType) String() string {
	if name, ok := eventTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Event Type %d", int16(t))
}

// Layout describes the fixed record format of one event kind.
type Layout struct {
	Type     EventType
	Size     int32 // bytes per record
	TSOffset int32 // byte offset of the int32 timestamp inside a record
}

// Name is the subsystem name used when reporting problems with this kind.
func (l Layout) Name() string {
	return l.Type.String()
}

func (l Layout) check() error {
	if l.Size < 4 {
		return fmt.Errorf("%w: record size %d smaller than the data word", ErrBadLayout, l.Size)
	}
	if l.TSOffset < 4 || l.TSOffset > l.Size-4 {
		return fmt.Errorf("%w: timestamp offset %d outside record of %d bytes", ErrBadLayout, l.TSOffset, l.Size)
	}
	return nil
}
