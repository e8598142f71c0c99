package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sysu-ecnc-dev/shift-editor/backend/internal/domain"
	"github.com/sysu-ecnc-dev/shift-editor/backend/internal/editor"
)

const replHelp = `可用命令:
  show [day]                               显示排班
  move <员工> <星期> <开始> <结束> [新员工]     修改时间或改派
  drag <员工> <星期> <像素>                  整体拖动班次
  resize <员工> <星期> top|bottom <像素位置>  拖动上沿或下沿到指定位置
  add <员工> <星期> <开始> <结束>              新增班次
  delete <员工> <星期>                      删除班次
  lock <员工> <星期或日期>                   切换锁定
  undo                                     撤销
  save                                     立即保存
  status                                   显示保存状态
  pending                                  显示待保存的修改
  help                                     显示帮助
  quit                                     保存后退出`

var errQuit = errors.New("quit")

type repl struct {
	sess *editor.Session
	in   io.Reader

	mu  sync.Mutex
	out io.Writer
}

func newREPL(sess *editor.Session, in io.Reader, out io.Writer) *repl {
	return &repl{sess: sess, in: in, out: out}
}

func (r *repl) printf(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.out, format, args...)
}

func (r *repl) run(ctx context.Context) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)

	go func() {
		scanner := bufio.NewScanner(r.in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		scanErr <- scanner.Err()
		close(lines)
	}()

	r.printf("输入 help 查看可用命令\n> ")
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return <-scanErr
			}
			if err := r.execute(line); err != nil {
				if errors.Is(err, errQuit) {
					return nil
				}
				r.printf("错误: %v\n", err)
			}
			r.printf("> ")
		}
	}
}

// execute 执行一行命令，返回 errQuit 表示退出
func (r *repl) execute(line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "help":
		r.printf("%s\n", replHelp)
	case "show":
		day := ""
		if len(args) > 0 {
			day = args[0]
		}
		result, err := r.sess.Schedule()
		if err != nil {
			return err
		}
		r.mu.Lock()
		printSchedule(r.out, result, day)
		r.mu.Unlock()
	case "move":
		if len(args) != 4 && len(args) != 5 {
			return errors.New("用法: move <员工> <星期> <开始> <结束> [新员工]")
		}
		start, end, err := r.currentRange(args[0], args[1])
		if err != nil {
			return err
		}
		newEmployee := ""
		if len(args) == 5 {
			newEmployee = args[4]
		}
		return r.sess.MoveShift(args[0], args[1], args[2], args[3], start, end, newEmployee)
	case "drag":
		if len(args) != 3 {
			return errors.New("用法: drag <员工> <星期> <像素>")
		}
		px, err := strconv.ParseFloat(args[2], 64)
		if err != nil {
			return fmt.Errorf("像素值无效: %q", args[2])
		}
		return r.sess.DragShift(args[0], args[1], px)
	case "resize":
		if len(args) != 4 || (args[2] != "top" && args[2] != "bottom") {
			return errors.New("用法: resize <员工> <星期> top|bottom <像素>")
		}
		px, err := strconv.ParseFloat(args[3], 64)
		if err != nil {
			return fmt.Errorf("像素值无效: %q", args[3])
		}
		return r.sess.ResizeShift(args[0], args[1], args[2] == "top", px)
	case "add":
		if len(args) != 4 {
			return errors.New("用法: add <员工> <星期> <开始> <结束>")
		}
		return r.sess.AddNewShift(args[0], args[1], args[2], args[3])
	case "delete":
		if len(args) != 2 {
			return errors.New("用法: delete <员工> <星期>")
		}
		return r.sess.DeleteShift(args[0], args[1])
	case "lock":
		if len(args) != 2 {
			return errors.New("用法: lock <员工> <星期或日期>")
		}
		return r.sess.ToggleLock(args[0], args[1])
	case "undo":
		return r.sess.Undo()
	case "save":
		return r.sess.SaveNow()
	case "status":
		msg := fmt.Sprintf("状态: %s，待保存 %d 条，可撤销 %d 步", r.sess.Status(), len(r.sess.PendingChanges()), r.sess.UndoDepth())
		if err := r.sess.LastError(); err != nil {
			msg += fmt.Sprintf("，最近错误: %v", err)
		}
		r.printf("%s\n", msg)
	case "pending":
		r.mu.Lock()
		printPending(r.out, r.sess.PendingChanges())
		r.mu.Unlock()
	case "quit", "exit":
		return errQuit
	default:
		return fmt.Errorf("未知命令 %q，输入 help 查看可用命令", cmd)
	}

	return nil
}

// currentRange 返回员工当天班次的当前时间范围
func (r *repl) currentRange(employeeName, day string) (string, string, error) {
	result, err := r.sess.Schedule()
	if err != nil {
		return "", "", err
	}
	i := domain.FindSchedule(result.Schedules, employeeName, day)
	if i < 0 {
		return "", "", editor.ErrScheduleNotFound
	}
	s := result.Schedules[i]
	if s.ShiftStart == nil || s.ShiftEnd == nil {
		return "", "", fmt.Errorf("%s %s 没有班次", employeeName, day)
	}
	return *s.ShiftStart, *s.ShiftEnd, nil
}

func (r *repl) watchStatus(events <-chan editor.StatusEvent) {
	for e := range events {
		switch e.Status {
		case editor.StatusSaved:
			r.printf("\n[已保存]\n")
		case editor.StatusError:
			r.printf("\n[保存失败] %v，待保存 %d 条\n", e.Err, e.Pending)
		}
	}
}

// flush 退出前尽量把未保存的修改发出去
func (r *repl) flush(timeout time.Duration) {
	if !r.sess.HasUnsavedChanges() {
		return
	}
	if err := r.sess.SaveNow(); err != nil {
		return
	}

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !r.sess.HasUnsavedChanges() {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	r.printf("仍有 %d 条修改未保存\n", len(r.sess.PendingChanges()))
}
