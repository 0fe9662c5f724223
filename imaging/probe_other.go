//go:build !linux && !darwin && !windows

package imaging

import (
	"errors"
	"os"
)

func deviceSize(*os.File) (int64, error)     { return 0, errors.ErrUnsupported }
func deviceSectorSize(*os.File) (int, error) { return 0, errors.ErrUnsupported }
