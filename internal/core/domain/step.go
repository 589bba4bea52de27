package domain

import (
	"time"
)

// StepName identifies one stage of the generation pipeline.
type StepName string

const (
	StepIdea            StepName = "idea"
	StepCopyDesign      StepName = "copy_design"
	StepCopyPublication StepName = "copy_publication"
	StepBaseImage       StepName = "base_image"
	StepFinalDesign     StepName = "final_design"
)

// StepOrder is the canonical execution order. A step may not start until its
// predecessor holds a completed result.
var StepOrder = []StepName{
	StepIdea,
	StepCopyDesign,
	StepCopyPublication,
	StepBaseImage,
	StepFinalDesign,
}

type StepStatus string

const (
	StepStatusPending    StepStatus = "pending"
	StepStatusInProgress StepStatus = "in_progress"
	StepStatusCompleted  StepStatus = "completed"
	StepStatusFailed     StepStatus = "failed"
)

// StepResult is the single row tracking one (job, step) pair across attempts.
type StepResult struct {
	ID            string
	JobID         string
	Step          StepName
	Status        StepStatus
	Input         map[string]any
	Output        map[string]any
	TokensCharged int64
	Error         string
	Annotation    StepAnnotation
	Attempts      int
	FailureCount  int
	NextAttemptAt time.Time
	UpdatedAt     time.Time
}

// StepAnnotation marks how a completed result was produced.
type StepAnnotation string

const (
	AnnotationNone     StepAnnotation = ""
	AnnotationFallback StepAnnotation = "fallback_used"
	AnnotationSkipped  StepAnnotation = "skipped"
)
