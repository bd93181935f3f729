package sqlite

import (
	"github.com/elemental-run/elemental/internal/errs"
	"github.com/elemental-run/elemental/internal/types"
)

func validatePriority(value interface{}) error {
	if priority, ok := value.(int); ok {
		if priority < 0 || priority > 4 {
			return errs.Validationf("priority must be between 0 and 4 (got %d)", priority)
		}
	}
	return nil
}

// validateStatus blocks a direct transition to tombstone: tombstones are
// only created through DeleteElement, never through a field update.
func validateStatus(value interface{}) error {
	if status, ok := value.(string); ok {
		if types.TaskStatus(status) == types.StatusTombstone {
			return errs.Validation("cannot set status to tombstone directly; delete the element instead")
		}
		if !types.TaskStatus(status).IsValid() {
			return errs.Validationf("invalid status: %s", status)
		}
	}
	return nil
}

func validateTaskType(value interface{}) error {
	if taskType, ok := value.(string); ok {
		if !types.TaskType(taskType).IsValid() {
			return errs.Validationf("invalid task type: %s", taskType)
		}
	}
	return nil
}

func validateTitle(value interface{}) error {
	if title, ok := value.(string); ok {
		if len(title) == 0 || len(title) > 500 {
			return errs.Validation("title must be 1-500 characters")
		}
	}
	return nil
}

var fieldValidators = map[string]func(interface{}) error{
	"priority": validatePriority,
	"status":   validateStatus,
	"taskType": validateTaskType,
	"title":    validateTitle,
}

// validateFieldUpdate validates a single field update value, used by update
// paths that accept arbitrary field/value pairs rather than a mutate
// closure.
func validateFieldUpdate(key string, value interface{}) error {
	if validator, ok := fieldValidators[key]; ok {
		return validator(value)
	}
	return nil
}
