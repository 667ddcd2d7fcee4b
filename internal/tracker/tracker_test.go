package tracker

import (
	"sync"
	"testing"
	"time"

	"habit-monitor/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestTracker() *Tracker {
	return New(zap.NewNop())
}

func testBase() time.Time {
	return time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)
}

// ============ 状态机 ============

func TestTracker_CanonicalSequence(t *testing.T) {
	tr := newTestTracker()
	base := testBase()
	tr.Start(base)

	// t=0..4 秒依次输入 F,T,T,F,T，t=5 秒结束会话
	frames := []bool{false, true, true, false, true}
	for i, detected := range frames {
		tr.Update(detected, "chomping", 0.9, base.Add(time.Duration(i)*time.Second))
	}
	closed := tr.End(base.Add(5 * time.Second))

	// 结束时强制闭合 [4,5)，时长 1 秒
	require.NotNil(t, closed)
	assert.Equal(t, time.Second, closed.Duration)

	stats := tr.ExportStats(base.Add(5 * time.Second))
	require.Len(t, stats.HabitSessions, 2)

	// 第一段 [1,3) 时长 2 秒
	first := stats.HabitSessions[0]
	assert.Equal(t, base.Add(1*time.Second), first.StartTime)
	assert.Equal(t, base.Add(3*time.Second), first.EndTime)
	assert.Equal(t, 2.0, first.DurationSeconds)

	// 第二段 [4,5) 时长 1 秒
	second := stats.HabitSessions[1]
	assert.Equal(t, base.Add(4*time.Second), second.StartTime)
	assert.Equal(t, base.Add(5*time.Second), second.EndTime)
	assert.Equal(t, 1.0, second.DurationSeconds)

	assert.Equal(t, 2, stats.TotalDetections)
	assert.Equal(t, 3.0, stats.TotalHabitTimeSeconds)
}

func TestTracker_UpdateBeforeStart_Ignored(t *testing.T) {
	tr := newTestTracker()
	base := testBase()

	opened, closed := tr.Update(true, "chomping", 0.9, base)

	assert.False(t, opened)
	assert.Nil(t, closed)
	snap := tr.Snapshot(base)
	assert.False(t, snap.SessionActive)
	assert.Equal(t, 0, snap.TotalDetections)
}

func TestTracker_UpdateAfterEnd_Ignored(t *testing.T) {
	tr := newTestTracker()
	base := testBase()
	tr.Start(base)
	tr.End(base.Add(time.Second))

	opened, closed := tr.Update(true, "chomping", 0.9, base.Add(2*time.Second))

	assert.False(t, opened)
	assert.Nil(t, closed)
	assert.Equal(t, 0, tr.Snapshot(base.Add(2*time.Second)).TotalDetections)
}

func TestTracker_End_Idempotent(t *testing.T) {
	tr := newTestTracker()
	base := testBase()
	tr.Start(base)
	tr.Update(true, "chomping", 0.9, base.Add(time.Second))

	first := tr.End(base.Add(2 * time.Second))
	second := tr.End(base.Add(3 * time.Second))

	require.NotNil(t, first)
	assert.Nil(t, second)

	// 第二次 End 不改变统计
	stats := tr.ExportStats(base.Add(3 * time.Second))
	assert.Len(t, stats.HabitSessions, 1)
	assert.Equal(t, 1.0, stats.TotalHabitTimeSeconds)
}

func TestTracker_End_NoActiveHabit(t *testing.T) {
	tr := newTestTracker()
	base := testBase()
	tr.Start(base)

	closed := tr.End(base.Add(time.Second))

	assert.Nil(t, closed)
	assert.False(t, tr.Snapshot(base.Add(time.Second)).SessionActive)
}

func TestTracker_OpenedFlag(t *testing.T) {
	tr := newTestTracker()
	base := testBase()
	tr.Start(base)

	opened, _ := tr.Update(true, "chomping", 0.9, base.Add(time.Second))
	assert.True(t, opened)

	// T→T 持续中，不再返回 opened
	opened, _ = tr.Update(true, "chomping", 0.8, base.Add(2*time.Second))
	assert.False(t, opened)
}

func TestTracker_ClosedSessionDetails(t *testing.T) {
	tr := newTestTracker()
	base := testBase()
	tr.Start(base)

	tr.Update(true, "chomping", 0.9, base.Add(time.Second))
	_, closed := tr.Update(false, models.UnknownClass, 0.0, base.Add(4*time.Second))

	require.NotNil(t, closed)
	assert.Equal(t, "chomping", closed.HabitClass)
	assert.Equal(t, base.Add(time.Second), closed.StartTime)
	assert.Equal(t, base.Add(4*time.Second), closed.EndTime)
	assert.Equal(t, 3*time.Second, closed.Duration)
}

func TestTracker_ClassChangeMidSession(t *testing.T) {
	tr := newTestTracker()
	base := testBase()
	tr.Start(base)

	tr.Update(true, "chomping", 0.9, base.Add(time.Second))
	opened, closed := tr.Update(true, "scratching", 0.8, base.Add(2*time.Second))

	// 分类变化不切分区间，区间保留打开时的分类
	assert.False(t, opened)
	assert.Nil(t, closed)

	_, closed = tr.Update(false, models.UnknownClass, 0.0, base.Add(3*time.Second))
	require.NotNil(t, closed)
	assert.Equal(t, "chomping", closed.HabitClass)
	assert.Equal(t, 1, tr.Snapshot(base.Add(3*time.Second)).TotalDetections)
}

func TestTracker_ClockBackwardsClampsDuration(t *testing.T) {
	tr := newTestTracker()
	base := testBase()
	tr.Start(base)

	tr.Update(true, "chomping", 0.9, base.Add(10*time.Second))
	_, closed := tr.Update(false, models.UnknownClass, 0.0, base.Add(5*time.Second))

	require.NotNil(t, closed)
	assert.Equal(t, time.Duration(0), closed.Duration)
}

// ============ 回种 / 重置 ============

func TestTracker_Seed(t *testing.T) {
	tr := newTestTracker()
	base := testBase()

	tr.Seed(&models.SessionStats{
		TotalDetections:       5,
		TotalHabitTimeSeconds: 120,
		HabitSessions: []models.HabitSession{
			{StartTime: base.Add(-time.Hour), EndTime: base.Add(-time.Hour + 2*time.Minute), DurationSeconds: 120},
		},
	})
	tr.Start(base)

	snap := tr.Snapshot(base)
	assert.Equal(t, 5, snap.TotalDetections)
	assert.Equal(t, 2*time.Minute, snap.TotalHabitTime)
	assert.Equal(t, 1, snap.SessionCount)

	// 回种后继续累计
	tr.Update(true, "chomping", 0.9, base.Add(time.Second))
	tr.Update(false, models.UnknownClass, 0.0, base.Add(3*time.Second))

	snap = tr.Snapshot(base.Add(3 * time.Second))
	assert.Equal(t, 6, snap.TotalDetections)
	assert.Equal(t, 2*time.Minute+2*time.Second, snap.TotalHabitTime)
	assert.Equal(t, 2, snap.SessionCount)
}

func TestTracker_Seed_NilIgnored(t *testing.T) {
	tr := newTestTracker()

	tr.Seed(nil)

	assert.Equal(t, 0, tr.Snapshot(testBase()).TotalDetections)
}

func TestTracker_Seed_AfterStartIgnored(t *testing.T) {
	tr := newTestTracker()
	base := testBase()
	tr.Start(base)

	tr.Seed(&models.SessionStats{TotalDetections: 99})

	assert.Equal(t, 0, tr.Snapshot(base).TotalDetections)
}

func TestTracker_Reset_WhileRunning(t *testing.T) {
	tr := newTestTracker()
	base := testBase()
	tr.Start(base)
	tr.Update(true, "chomping", 0.9, base.Add(time.Second))

	tr.Reset(base.Add(10 * time.Second))

	snap := tr.Snapshot(base.Add(12 * time.Second))
	assert.True(t, snap.SessionActive)
	assert.False(t, snap.HabitActive)
	assert.Equal(t, 0, snap.TotalDetections)
	assert.Equal(t, 0, snap.SessionCount)
	assert.Equal(t, 2*time.Second, snap.SessionElapsed)
}

func TestTracker_Reset_AfterEnd(t *testing.T) {
	tr := newTestTracker()
	base := testBase()
	tr.Start(base)
	tr.End(base.Add(time.Second))

	tr.Reset(base.Add(2 * time.Second))

	snap := tr.Snapshot(base.Add(3 * time.Second))
	assert.False(t, snap.SessionActive)
	assert.Equal(t, time.Duration(0), snap.SessionElapsed)
}

// ============ 检测历史 ============

func TestTracker_LastDetectionTracked(t *testing.T) {
	tr := newTestTracker()
	base := testBase()
	tr.Start(base)

	// 未检出的帧同样刷新最近一次检测
	tr.Update(false, "chomping", 0.42, base.Add(time.Second))

	snap := tr.Snapshot(base.Add(time.Second))
	require.NotNil(t, snap.LastDetection)
	assert.Equal(t, "chomping", snap.LastDetection.Class)
	assert.Equal(t, 0.42, snap.LastDetection.Confidence)
	assert.False(t, snap.LastDetection.Detected)
}

func TestTracker_HistoryBounded(t *testing.T) {
	tr := newTestTracker()
	base := testBase()
	tr.Start(base)

	for i := 0; i < historyLimit+50; i++ {
		tr.Update(i%2 == 0, "chomping", 0.5, base.Add(time.Duration(i)*time.Second))
	}

	stats := tr.ExportStats(base.Add(time.Hour))
	assert.Len(t, stats.DetectionHistory, historyLimit)
	// 最旧的 50 条被淘汰
	assert.Equal(t, base.Add(50*time.Second), stats.DetectionHistory[0].Timestamp)
}

// ============ 导出 / 并发一致性 ============

func TestTracker_ExportStats_ClosedOnly(t *testing.T) {
	tr := newTestTracker()
	base := testBase()
	tr.Start(base)

	tr.Update(true, "chomping", 0.9, base.Add(time.Second))
	tr.Update(false, models.UnknownClass, 0.0, base.Add(3*time.Second))
	tr.Update(true, "chomping", 0.9, base.Add(5*time.Second))

	// 进行中的区间不导出
	stats := tr.ExportStats(base.Add(6 * time.Second))
	assert.Len(t, stats.HabitSessions, 1)
	assert.Equal(t, 2.0, stats.TotalHabitTimeSeconds)
	assert.Equal(t, 2, stats.TotalDetections)
}

func TestTracker_ExportStats_RoundTripSeed(t *testing.T) {
	tr := newTestTracker()
	base := testBase()
	tr.Start(base)
	tr.Update(true, "chomping", 0.9, base.Add(time.Second))
	tr.Update(false, models.UnknownClass, 0.0, base.Add(4*time.Second))
	tr.End(base.Add(5 * time.Second))

	exported := tr.ExportStats(base.Add(5 * time.Second))

	restored := newTestTracker()
	restored.Seed(exported)
	restored.Start(base.Add(time.Hour))

	snap := restored.Snapshot(base.Add(time.Hour))
	assert.Equal(t, exported.TotalDetections, snap.TotalDetections)
	assert.Equal(t, exported.TotalHabitTimeSeconds, snap.TotalHabitTime.Seconds())
	assert.Equal(t, len(exported.HabitSessions), snap.SessionCount)
}

func TestTracker_SnapshotConsistency_Concurrent(t *testing.T) {
	tr := newTestTracker()
	base := testBase()
	tr.Start(base)

	done := make(chan struct{})
	var wg sync.WaitGroup

	// 写入方：成对的 T/F 帧，保证「打开数 - 闭合数」只会是 0 或 1
	wg.Add(1)
	go func() {
		defer wg.Done()
		now := base
		for i := 0; i < 2000; i++ {
			now = now.Add(time.Second)
			tr.Update(true, "chomping", 0.9, now)
			now = now.Add(time.Second)
			tr.Update(false, models.UnknownClass, 0.0, now)
		}
		close(done)
	}()

	// 读取方：快照必须满足迁移不可分割的约束
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				snap := tr.Snapshot(time.Now())
				diff := snap.TotalDetections - snap.SessionCount
				if diff != 0 && diff != 1 {
					t.Errorf("torn snapshot: detections=%d sessions=%d", snap.TotalDetections, snap.SessionCount)
					return
				}
				if snap.HabitActive != (diff == 1) {
					t.Errorf("torn snapshot: habitActive=%v diff=%d", snap.HabitActive, diff)
					return
				}
			}
		}()
	}

	wg.Wait()

	final := tr.Snapshot(time.Now())
	assert.Equal(t, 2000, final.TotalDetections)
	assert.Equal(t, 2000, final.SessionCount)
}
