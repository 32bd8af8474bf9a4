package audio

import (
	"github.com/gen2brain/malgo"
	"github.com/oszuidwest/gunshot-logger/internal/util"
)

// ListDevices returns the available audio capture devices.
func ListDevices() ([]Device, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, util.WrapError("initialize audio context", err)
	}
	defer freeContext(ctx)

	infos, err := ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, util.WrapError("list capture devices", err)
	}

	devices := make([]Device, 0, len(infos))
	for _, info := range infos {
		devices = append(devices, Device{
			ID:      info.ID.String(),
			Name:    info.Name(),
			Default: info.IsDefault == 1,
		})
	}
	return devices, nil
}
