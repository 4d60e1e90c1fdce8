package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/keejkrej/mupattern-engine/internal/config"
	"github.com/keejkrej/mupattern-engine/internal/logger"
	"github.com/keejkrej/mupattern-engine/internal/models"
	"github.com/keejkrej/mupattern-engine/internal/orchestrator"
	"github.com/keejkrej/mupattern-engine/internal/runner"
	"github.com/keejkrej/mupattern-engine/internal/store"
	"github.com/keejkrej/mupattern-engine/internal/tui"
	"github.com/keejkrej/mupattern-engine/internal/zarr"
)

func main() {
	logger.Init()
	config.LoadEnv()

	cfg := config.NewConfig()
	cfg.LoadFromEnvironment()

	var useTUI bool

	newOrchestrator := func() (*orchestrator.Orchestrator, error) {
		taskStore, err := store.NewTaskStore(cfg.StorePath)
		if err != nil {
			return nil, err
		}
		return orchestrator.New(taskStore, runner.NewProcessRunner(cfg.WorkerBin)), nil
	}

	// submit runs one task to completion, either streaming progress to the
	// log or through the dashboard.
	submit := func(req models.TaskRequest) error {
		orch, err := newOrchestrator()
		if err != nil {
			return err
		}

		if useTUI {
			if err := logger.InitFileOnly(filepath.Join(cfg.DataDir, "logs")); err != nil {
				return err
			}
			defer logger.Close()

			monitor := tui.NewMonitor(orch)
			monitor.Start()

			id, err := orch.Submit(req)
			if err != nil {
				return err
			}
			go func() {
				monitor.Watch(id)
				monitor.Stop()
			}()
			if err := monitor.Run(); err != nil {
				return err
			}
			task, _ := orch.Get(id)
			if task.Status == models.TaskStatusFailed {
				return fmt.Errorf("task %s failed: %s", id, task.Error)
			}
			return nil
		}

		id, err := orch.Submit(req)
		if err != nil {
			return err
		}
		if events, ok := orch.Subscribe(id); ok {
			for ev := range events {
				logger.Info("[%3.0f%%] %s", ev.Progress*100, ev.Message)
			}
		}
		<-orch.Wait(id)

		task, _ := orch.Get(id)
		if task.Status == models.TaskStatusFailed {
			return fmt.Errorf("task %s failed: %s", id, task.Error)
		}
		logger.Info("Task %s finished: %s", id, task.Status)
		return nil
	}

	rootCmd := &cobra.Command{
		Use:   "mupattern-engine",
		Short: "Task engine for the mupattern microscopy toolkit",
		Long: `mupattern-engine runs the external mupattern worker binary (crop,
convert, expression, movie), tracks every task in a persistent store and
serves cached reads of the Zarr crop stores the worker produces.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			return cfg.ResolveDataDir()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfg.WorkerBin, "worker-bin", "b", cfg.WorkerBin, "Path to the mupattern worker binary")
	rootCmd.PersistentFlags().StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "Directory for engine state (default: ~/.mupattern-engine)")
	rootCmd.PersistentFlags().StringVar(&cfg.StorePath, "store", cfg.StorePath, "Task store file (default: <data-dir>/tasks.json)")
	rootCmd.PersistentFlags().BoolVar(&useTUI, "tui", false, "Show the task dashboard instead of log output")

	var cropReq models.CropRequest
	cropCmd := &cobra.Command{
		Use:   "crop",
		Short: "Crop one position of a TIFF folder into a Zarr store",
		RunE: func(cmd *cobra.Command, args []string) error {
			return submit(cropReq)
		},
	}
	cropCmd.Flags().StringVar(&cropReq.Input, "input", "", "Input TIFF directory")
	cropCmd.Flags().IntVar(&cropReq.Position, "pos", 0, "Position index")
	cropCmd.Flags().StringVar(&cropReq.BBoxPath, "bbox", "", "Bounding box file")
	cropCmd.Flags().StringVar(&cropReq.Output, "output", "", "Output Zarr store")
	cropCmd.Flags().BoolVar(&cropReq.Background, "background", false, "Also extract the background crop")
	cropCmd.MarkFlagRequired("input")
	cropCmd.MarkFlagRequired("bbox")
	cropCmd.MarkFlagRequired("output")

	var convertReq models.ConvertRequest
	convertCmd := &cobra.Command{
		Use:   "convert",
		Short: "Convert an ND2 acquisition into per-position TIFF folders",
		RunE: func(cmd *cobra.Command, args []string) error {
			return submit(convertReq)
		},
	}
	convertCmd.Flags().StringVar(&convertReq.Input, "input", "", "Input .nd2 file")
	convertCmd.Flags().StringVar(&convertReq.Positions, "pos", "all", "Positions: \"all\" or slices like \"0:5, 10\"")
	convertCmd.Flags().StringVar(&convertReq.Timepoints, "time", "all", "Timepoints: \"all\" or slices like \"0:50, 100\"")
	convertCmd.Flags().StringVar(&convertReq.Output, "output", "", "Output directory")
	convertCmd.MarkFlagRequired("input")
	convertCmd.MarkFlagRequired("output")

	var exprReq models.ExpressionRequest
	expressionCmd := &cobra.Command{
		Use:   "expression",
		Short: "Extract per-crop expression traces into a CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			return submit(exprReq)
		},
	}
	expressionCmd.Flags().StringVar(&exprReq.Workspace, "workspace", "", "Workspace directory")
	expressionCmd.Flags().IntVar(&exprReq.Position, "pos", 0, "Position index")
	expressionCmd.Flags().IntVar(&exprReq.Channel, "channel", 0, "Channel index")
	expressionCmd.Flags().StringVar(&exprReq.Output, "output", "", "Output CSV file")
	expressionCmd.MarkFlagRequired("workspace")
	expressionCmd.MarkFlagRequired("output")

	var movieReq models.MovieRequest
	movieCmd := &cobra.Command{
		Use:   "movie",
		Short: "Render one crop of a Zarr store to an MP4",
		RunE: func(cmd *cobra.Command, args []string) error {
			if movieReq.FFmpegPath == "" {
				movieReq.FFmpegPath = cfg.FFmpegPath
			}
			return submit(movieReq)
		},
	}
	movieCmd.Flags().StringVar(&movieReq.InputZarr, "input-zarr", "", "Input Zarr store")
	movieCmd.Flags().IntVar(&movieReq.Position, "pos", 0, "Position index")
	movieCmd.Flags().IntVar(&movieReq.Crop, "crop", 0, "Crop index")
	movieCmd.Flags().IntVar(&movieReq.Channel, "channel", 0, "Channel index")
	movieCmd.Flags().StringVar(&movieReq.Timepoints, "time", "all", "Timepoints: \"all\" or slices")
	movieCmd.Flags().StringVar(&movieReq.Output, "output", "", "Output MP4 file")
	movieCmd.Flags().IntVar(&movieReq.FPS, "fps", 10, "Frames per second")
	movieCmd.Flags().StringVar(&movieReq.Colormap, "colormap", "grayscale", "Colormap name")
	movieCmd.Flags().StringVar(&movieReq.FFmpegPath, "ffmpeg", "", "Path to ffmpeg (default: from config)")
	movieCmd.Flags().StringVar(&movieReq.SpotsCSV, "spots", "", "Optional spots CSV overlay")
	movieCmd.MarkFlagRequired("input-zarr")
	movieCmd.MarkFlagRequired("output")

	tasksCmd := &cobra.Command{
		Use:   "tasks",
		Short: "List task records, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			orch, err := newOrchestrator()
			if err != nil {
				return err
			}
			tasks := orch.List()
			if len(tasks) == 0 {
				fmt.Println("No tasks recorded")
				return nil
			}
			for _, t := range tasks {
				line := fmt.Sprintf("%s  %-10s %-9s %s", t.ID, t.Kind, t.Status, t.CreatedAt.Format("2006-01-02 15:04:05"))
				if t.Error != "" {
					line += "  " + firstLine(t.Error)
				}
				fmt.Println(line)
			}
			return nil
		},
	}

	cleanCmd := &cobra.Command{
		Use:   "clean",
		Short: "Delete every task that is neither running nor queued",
		RunE: func(cmd *cobra.Command, args []string) error {
			orch, err := newOrchestrator()
			if err != nil {
				return err
			}
			removed := orch.DeleteCompleted()
			logger.Info("Removed %d completed tasks", removed)
			return nil
		},
	}

	var frameRoot, framePos, frameCrop string
	var frameT, frameC, frameZ uint64
	var frameOut string
	frameCmd := &cobra.Command{
		Use:   "frame",
		Short: "Read one (H,W) frame from a Zarr crop store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cache := zarr.NewCacheManager()
			ctx := cache.Context(frameRoot)

			data, err := ctx.GetFrame(framePos, frameCrop, frameT, frameC, frameZ)
			if err != nil {
				return err
			}

			arr, err := ctx.Get(framePos, frameCrop)
			if err != nil {
				return err
			}

			low, high := data[0], data[0]
			for _, v := range data {
				if v < low {
					low = v
				}
				if v > high {
					high = v
				}
			}
			logger.Info("Frame %dx%d, intensity %d..%d", arr.Shape[3], arr.Shape[4], low, high)

			if frameOut != "" {
				raw := make([]byte, len(data)*2)
				for i, v := range data {
					raw[i*2] = byte(v)
					raw[i*2+1] = byte(v >> 8)
				}
				if err := os.WriteFile(frameOut, raw, 0600); err != nil {
					return err
				}
				logger.Info("Wrote raw frame to %s", frameOut)
			}
			return nil
		},
	}
	frameCmd.Flags().StringVar(&frameRoot, "zarr", "", "Zarr store root")
	frameCmd.Flags().StringVar(&framePos, "pos", "", "Position id")
	frameCmd.Flags().StringVar(&frameCrop, "crop", "", "Crop id")
	frameCmd.Flags().Uint64Var(&frameT, "t", 0, "Timepoint index")
	frameCmd.Flags().Uint64Var(&frameC, "c", 0, "Channel index")
	frameCmd.Flags().Uint64Var(&frameZ, "z", 0, "Z index")
	frameCmd.Flags().StringVar(&frameOut, "output", "", "Optional raw uint16 dump file")
	frameCmd.MarkFlagRequired("zarr")
	frameCmd.MarkFlagRequired("pos")
	frameCmd.MarkFlagRequired("crop")

	rootCmd.AddCommand(cropCmd)
	rootCmd.AddCommand(convertCmd)
	rootCmd.AddCommand(expressionCmd)
	rootCmd.AddCommand(movieCmd)
	rootCmd.AddCommand(tasksCmd)
	rootCmd.AddCommand(cleanCmd)
	rootCmd.AddCommand(frameCmd)

	if err := rootCmd.Execute(); err != nil {
		logger.Fatal("%v", err)
	}
}

func firstLine(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			return s[:i]
		}
	}
	return s
}
