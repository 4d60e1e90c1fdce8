package models

import "strconv"

// TaskRequest describes the inputs of one worker invocation. Args returns
// the worker argument vector, starting with the subcommand.
type TaskRequest interface {
	Kind() TaskKind
	Args() []string
	OutputPath() string
}

// CropRequest crops one position of a TIFF folder into a Zarr store.
type CropRequest struct {
	Input      string `json:"input"`
	Position   int    `json:"position"`
	BBoxPath   string `json:"bbox_path"`
	Output     string `json:"output"`
	Background bool   `json:"background"`
}

func (r CropRequest) Kind() TaskKind     { return TaskKindCrop }
func (r CropRequest) OutputPath() string { return r.Output }

func (r CropRequest) Args() []string {
	args := []string{
		"crop",
		"--input", r.Input,
		"--pos", strconv.Itoa(r.Position),
		"--bbox", r.BBoxPath,
		"--output", r.Output,
	}
	if r.Background {
		args = append(args, "--background")
	}
	return args
}

// ConvertRequest converts an ND2 acquisition into per-position TIFF folders.
// Positions and Timepoints accept "all" or slice expressions like "0:5, 10".
type ConvertRequest struct {
	Input      string `json:"input"`
	Positions  string `json:"positions"`
	Timepoints string `json:"timepoints"`
	Output     string `json:"output"`
}

func (r ConvertRequest) Kind() TaskKind     { return TaskKindConvert }
func (r ConvertRequest) OutputPath() string { return r.Output }

func (r ConvertRequest) Args() []string {
	return []string{
		"convert",
		"--input", r.Input,
		"--pos", r.Positions,
		"--time", r.Timepoints,
		"--output", r.Output,
		"--yes",
	}
}

// ExpressionRequest extracts per-crop expression traces into a CSV.
type ExpressionRequest struct {
	Workspace string `json:"workspace"`
	Position  int    `json:"position"`
	Channel   int    `json:"channel"`
	Output    string `json:"output"`
}

func (r ExpressionRequest) Kind() TaskKind     { return TaskKindExpression }
func (r ExpressionRequest) OutputPath() string { return r.Output }

func (r ExpressionRequest) Args() []string {
	return []string{
		"expression",
		"--workspace", r.Workspace,
		"--pos", strconv.Itoa(r.Position),
		"--channel", strconv.Itoa(r.Channel),
		"--output", r.Output,
	}
}

// MovieRequest renders one crop of the Zarr store to an MP4 via ffmpeg.
type MovieRequest struct {
	InputZarr  string `json:"input_zarr"`
	Position   int    `json:"position"`
	Crop       int    `json:"crop"`
	Channel    int    `json:"channel"`
	Timepoints string `json:"timepoints"`
	Output     string `json:"output"`
	FPS        int    `json:"fps"`
	Colormap   string `json:"colormap"`
	FFmpegPath string `json:"ffmpeg_path"`
	SpotsCSV   string `json:"spots_csv,omitempty"`
}

func (r MovieRequest) Kind() TaskKind     { return TaskKindMovie }
func (r MovieRequest) OutputPath() string { return r.Output }

func (r MovieRequest) Args() []string {
	fps := r.FPS
	if fps == 0 {
		fps = 10
	}
	colormap := r.Colormap
	if colormap == "" {
		colormap = "grayscale"
	}
	args := []string{
		"movie",
		"--input-zarr", r.InputZarr,
		"--pos", strconv.Itoa(r.Position),
		"--crop", strconv.Itoa(r.Crop),
		"--channel", strconv.Itoa(r.Channel),
		"--time", r.Timepoints,
		"--output", r.Output,
		"--fps", strconv.Itoa(fps),
		"--colormap", colormap,
		"--ffmpeg", r.FFmpegPath,
	}
	if r.SpotsCSV != "" {
		args = append(args, "--spots", r.SpotsCSV)
	}
	return args
}
