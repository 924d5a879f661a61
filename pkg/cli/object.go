package cli

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/kubelens/kubelens/pkg/k8s"
	"github.com/kubelens/kubelens/pkg/models"
)

var (
	describeFlags objectFlags
	yamlFlags     objectFlags
	editFlags     objectFlags
	scaleFlags    objectFlags
	restartFlags  objectFlags
	deleteFlags   objectFlags
	metricsFlags  objectFlags

	yamlCopy  bool
	deleteYes bool
)

var describeCmd = &cobra.Command{
	Use:   "describe KIND NAME",
	Short: "Show details of a resource",
	Args:  cobra.ExactArgs(2),
	RunE:  runDescribe,
}

var yamlCmd = &cobra.Command{
	Use:   "yaml KIND NAME",
	Short: "Print a resource as YAML",
	Args:  cobra.ExactArgs(2),
	RunE:  runYAML,
}

var editCmd = &cobra.Command{
	Use:   "edit KIND NAME",
	Short: "Edit a resource's YAML in $EDITOR and apply it",
	Args:  cobra.ExactArgs(2),
	RunE:  runEdit,
}

var scaleCmd = &cobra.Command{
	Use:   "scale KIND NAME REPLICAS",
	Short: "Set the replica count of a deployment, replicaset or statefulset",
	Args:  cobra.ExactArgs(3),
	RunE:  runScale,
}

var restartCmd = &cobra.Command{
	Use:   "restart KIND NAME",
	Short: "Roll out a restart of a deployment, daemonset or statefulset",
	Args:  cobra.ExactArgs(2),
	RunE:  runRestart,
}

var deleteCmd = &cobra.Command{
	Use:   "delete KIND NAME",
	Short: "Delete a resource",
	Args:  cobra.ExactArgs(2),
	RunE:  runDelete,
}

var metricsCmd = &cobra.Command{
	Use:   "metrics POD",
	Short: "Show the CPU and memory usage of a pod",
	Args:  cobra.ExactArgs(1),
	RunE:  runMetrics,
}

func init() {
	describeFlags.register(describeCmd)
	yamlFlags.register(yamlCmd)
	editFlags.register(editCmd)
	scaleFlags.register(scaleCmd)
	restartFlags.register(restartCmd)
	deleteFlags.register(deleteCmd)
	metricsFlags.register(metricsCmd)

	yamlCmd.Flags().BoolVar(&yamlCopy, "copy", false, "copy the YAML to the clipboard instead of printing it")
	deleteCmd.Flags().BoolVarP(&deleteYes, "yes", "y", false, "do not ask for confirmation")

	rootCmd.AddCommand(describeCmd, yamlCmd, editCmd, scaleCmd, restartCmd, deleteCmd, metricsCmd)
}

func runDescribe(cmd *cobra.Command, args []string) error {
	ref, err := describeFlags.ref(args[0], args[1])
	if err != nil {
		return err
	}
	client, err := current.authed()
	if err != nil {
		return err
	}
	out, err := client.Describe(cmd.Context(), ref)
	if err != nil {
		return explain(err)
	}
	fmt.Fprint(current.out, out)
	return nil
}

func runYAML(cmd *cobra.Command, args []string) error {
	ref, err := yamlFlags.ref(args[0], args[1])
	if err != nil {
		return err
	}
	client, err := current.authed()
	if err != nil {
		return err
	}
	out, err := client.GetYAML(cmd.Context(), ref)
	if err != nil {
		return explain(err)
	}
	if yamlCopy {
		if err := copyToClipboard(out); err != nil {
			return err
		}
		log.Info("copied to clipboard", "object", ref.String())
		return nil
	}
	fmt.Fprint(current.out, out)
	return nil
}

func copyToClipboard(text string) error {
	if err := clipboard.WriteAll(text); err != nil {
		return fmt.Errorf("failed to copy to clipboard: %w", err)
	}
	return nil
}

func editor() string {
	for _, env := range []string{"KUBE_EDITOR", "VISUAL", "EDITOR"} {
		if v := strings.TrimSpace(os.Getenv(env)); v != "" {
			return v
		}
	}
	return "vi"
}

// editText opens text in the user's editor and returns the saved content.
func editText(name, text string) ([]byte, error) {
	dir, err := os.MkdirTemp("", "kubelensctl-edit-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(text), 0o600); err != nil {
		return nil, err
	}
	fields := strings.Fields(editor())
	c := exec.Command(fields[0], append(fields[1:], path)...)
	c.Stdin, c.Stdout, c.Stderr = os.Stdin, os.Stdout, os.Stderr
	if err := c.Run(); err != nil {
		return nil, fmt.Errorf("editor failed: %w", err)
	}
	return os.ReadFile(path)
}

func runEdit(cmd *cobra.Command, args []string) error {
	ref, err := editFlags.ref(args[0], args[1])
	if err != nil {
		return err
	}
	client, err := current.authed()
	if err != nil {
		return err
	}
	original, err := client.GetYAML(cmd.Context(), ref)
	if err != nil {
		return explain(err)
	}

	edited, err := editText(ref.Name+".yaml", original)
	if err != nil {
		return err
	}
	if bytes.Equal(bytes.TrimSpace(edited), bytes.TrimSpace([]byte(original))) {
		log.Info("edit cancelled, no changes made")
		return nil
	}
	if len(bytes.TrimSpace(edited)) == 0 {
		return errors.New("edit cancelled, the file is empty")
	}

	obj, err := client.Update(cmd.Context(), ref, edited)
	if err != nil {
		return explain(err)
	}
	log.Info("updated", "object", ref.String(), "status", statusText(obj))
	return nil
}

func runScale(cmd *cobra.Command, args []string) error {
	ref, err := scaleFlags.ref(args[0], args[1])
	if err != nil {
		return err
	}
	n, err := strconv.ParseInt(args[2], 10, 32)
	if err != nil || n < 0 {
		return fmt.Errorf("invalid replica count %q", args[2])
	}
	if k, _ := k8s.LookupKind(ref.Kind); !k.Scalable {
		return fmt.Errorf("%s cannot be scaled", ref.Kind)
	}
	client, err := current.authed()
	if err != nil {
		return err
	}
	obj, err := client.Scale(cmd.Context(), ref, int32(n))
	if err != nil {
		return explain(err)
	}
	log.Info("scaled", "object", ref.String(), "replicas", n, "status", statusText(obj))
	return nil
}

func runRestart(cmd *cobra.Command, args []string) error {
	ref, err := restartFlags.ref(args[0], args[1])
	if err != nil {
		return err
	}
	if k, _ := k8s.LookupKind(ref.Kind); !k.Restartable {
		return fmt.Errorf("%s cannot be restarted", ref.Kind)
	}
	client, err := current.authed()
	if err != nil {
		return err
	}
	if _, err := client.Restart(cmd.Context(), ref); err != nil {
		return explain(err)
	}
	log.Info("restart triggered", "object", ref.String())
	return nil
}

func confirm(cmd *cobra.Command, prompt string) bool {
	fmt.Fprintf(current.out, "%s [y/N]: ", prompt)
	line, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}

func runDelete(cmd *cobra.Command, args []string) error {
	ref, err := deleteFlags.ref(args[0], args[1])
	if err != nil {
		return err
	}
	if !deleteYes && !confirm(cmd, fmt.Sprintf("Delete %s?", ref)) {
		log.Info("aborted")
		return nil
	}
	client, err := current.authed()
	if err != nil {
		return err
	}
	if err := client.Delete(cmd.Context(), ref); err != nil {
		return explain(err)
	}
	log.Info("deleted", "object", ref.String())
	return nil
}

func runMetrics(cmd *cobra.Command, args []string) error {
	ref, err := metricsFlags.ref(models.KindPods, args[0])
	if err != nil {
		return err
	}
	client, err := current.authed()
	if err != nil {
		return err
	}
	usage, err := client.PodMetrics(cmd.Context(), ref.Cluster, ref.Namespace, ref.Name)
	if err != nil {
		return explain(err)
	}

	rows := make([][]string, 0, len(usage.Containers)+1)
	for _, c := range usage.Containers {
		rows = append(rows, []string{c.Name, formatCPU(c.CPUMillicores), formatBytes(c.MemoryBytes)})
	}
	rows = append(rows, []string{"total", formatCPU(usage.CPUMillicores), formatBytes(usage.MemoryBytes)})
	fmt.Fprintln(current.out, current.theme.Title.Render(ref.String()))
	fmt.Fprintln(current.out, renderGrid([]string{"CONTAINER", "CPU", "MEMORY"}, rows))
	return nil
}

func statusText(obj models.Object) string {
	return string(models.StatusOf(obj))
}

func formatCPU(millicores int64) string {
	if millicores >= 1000 {
		return strconv.FormatFloat(float64(millicores)/1000, 'f', 2, 64)
	}
	return fmt.Sprintf("%dm", millicores)
}

func formatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%dB", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%ci", float64(b)/float64(div), "KMGTPE"[exp])
}
