package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
)

var (
	logsFork   int
	logsFollow bool
	logsTail   int
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "List or follow per-fork log files",
	RunE:  runLogs,
}

func init() {
	logsCmd.Flags().IntVar(&logsFork, "fork", -1, "show only this fork's log")
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "stream new log lines as they are written")
	logsCmd.Flags().IntVar(&logsTail, "tail", 0, "print only the last N lines before following")
	rootCmd.AddCommand(logsCmd)
}

func runLogs(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	files, err := listForkLogs(cfg.Logs.Dir, logsFork)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		fmt.Println("No fork logs found in", cfg.Logs.Dir)
		return nil
	}

	if !logsFollow && logsFork < 0 {
		for _, f := range files {
			info, err := os.Stat(f)
			if err != nil {
				continue
			}
			fmt.Printf("%s\t%d bytes\t%s\n", f, info.Size(), info.ModTime().Format("2006-01-02 15:04:05"))
		}
		return nil
	}

	// Newest file for the selected fork (or overall).
	target := files[len(files)-1]
	if err := printTail(target, logsTail); err != nil {
		return err
	}
	if !logsFollow {
		return nil
	}
	return followFile(cmd, target)
}

// listForkLogs returns matching fork log files sorted by name; the
// session timestamp embedded in the name makes that chronological.
func listForkLogs(dir string, forkID int) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	prefix := "fork_"
	if forkID >= 0 {
		prefix = fmt.Sprintf("fork_%d_", forkID)
	}

	var files []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".log") {
			continue
		}
		files = append(files, filepath.Join(dir, name))
	}
	sort.Strings(files)
	return files, nil
}

// printTail prints the whole file, or its last n lines when n > 0.
func printTail(path string, n int) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if n <= 0 {
		_, err = os.Stdout.Write(data)
		return err
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	for _, line := range lines {
		fmt.Println(line)
	}
	return nil
}

// followFile streams appended bytes until the command context ends.
func followFile(cmd *cobra.Command, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	if err := watcher.Add(path); err != nil {
		return err
	}

	ctx := cmd.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Write) {
				if _, err := io.Copy(os.Stdout, f); err != nil {
					return err
				}
			}
			if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				return nil
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return err
		}
	}
}
