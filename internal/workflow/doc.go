// Package workflow runs dataset evaluations as Temporal workflows.
//
// EvaluateDatasetWorkflow lists the items of a dataset and processes them
// strictly in order, one ProcessItem activity per item, then writes the
// score files. Each activity flushes its item's stage records before it
// returns, so a retried activity or a resubmitted workflow resumes from the
// progress logs the same way a local run does.
//
// Workflow code must stay deterministic: file access, model calls and
// clocks belong in activities.
package workflow
