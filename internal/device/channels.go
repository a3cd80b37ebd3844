package device

import (
	log "github.com/sirupsen/logrus"
)

// ToggleChannel enables or disables the given channel. It returns true when
// the state of the channel changed, false when it already had the requested
// state, the channel does not exist or the pins have not been configured.
func (d *Device) ToggleChannel(ch int, enabled bool) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.radio == nil {
		return false
	}

	var changed bool
	if enabled {
		changed = d.engine.EnableChannel(ch)
	} else {
		changed = d.engine.DisableChannel(ch)
	}

	log.WithFields(log.Fields{
		"channel": ch,
		"enabled": enabled,
		"changed": changed,
	}).Debug("device: toggle channel")

	return changed
}

// EnableChannel enables the given channel.
func (d *Device) EnableChannel(ch int) bool {
	return d.ToggleChannel(ch, true)
}

// DisableChannel disables the given channel.
func (d *Device) DisableChannel(ch int) bool {
	return d.ToggleChannel(ch, false)
}

// ToggleSubBand enables or disables the 8 channels of the given sub-band
// (sub-band b holds the channels 8b to 8b+7). It returns true when at least
// one channel changed.
func (d *Device) ToggleSubBand(band int, enabled bool) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.radio == nil {
		return false
	}

	return d.toggleSubBand(band, enabled)
}

// EnableSubBand enables the given sub-band.
func (d *Device) EnableSubBand(band int) bool {
	return d.ToggleSubBand(band, true)
}

// DisableSubBand disables the given sub-band.
func (d *Device) DisableSubBand(band int) bool {
	return d.ToggleSubBand(band, false)
}

// SelectSubBand disables all sub-bands except the given one. It returns false
// when the sub-band does not exist or the pins have not been configured.
func (d *Device) SelectSubBand(band int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.radio == nil {
		return false
	}

	count := d.engine.SubBandCount()
	if band < 0 || band >= count {
		return false
	}

	for b := 0; b < count; b++ {
		if b != band {
			d.toggleSubBand(b, false)
		}
	}
	d.toggleSubBand(band, true)

	log.WithField("sub_band", band).Info("device: sub-band selected")
	return true
}

func (d *Device) toggleSubBand(band int, enabled bool) bool {
	var changed bool
	if enabled {
		changed = d.engine.EnableSubBand(band)
	} else {
		changed = d.engine.DisableSubBand(band)
	}

	log.WithFields(log.Fields{
		"sub_band": band,
		"enabled":  enabled,
		"changed":  changed,
	}).Debug("device: toggle sub-band")

	return changed
}
