package stepmgr

import (
	"fmt"

	"github.com/cuemby/ridgeline/pkg/ridgeerr"
)

func fmtInvalidJobID(jobID uint32) error {
	return ridgeerr.Wrap(ridgeerr.CodeUserInput, fmt.Sprintf("job %d not found", jobID), ridgeerr.InvalidJobID)
}

func fmtInvalidStepID(jobID, stepID uint32) error {
	return ridgeerr.Wrap(ridgeerr.CodeUserInput, fmt.Sprintf("job %d step %d not found", jobID, stepID), ridgeerr.InvalidStepID)
}
