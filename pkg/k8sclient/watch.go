package k8sclient

import (
	"context"
	"sync"
	"sync/atomic"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/tools/cache"

	"github.com/lanvstn/kubetransport/pkg/reconcile"
	"github.com/lanvstn/kubetransport/pkg/servicemodel"
)

// WatchServices starts a shared informer over Services in namespace and
// returns a channel of reconcile.Events plus the informer's HasSynced
// function for readiness gating. The channel is closed when ctx is done.
//
// The informer's initial list is delivered as a single ResetServices
// event (this tool's analogue of a watch "restart"); every subsequent
// add/update is an AppliedService and every delete a DeletedService.
func (c *Client) WatchServices(ctx context.Context, namespace string) (<-chan reconcile.Event, cache.InformerSynced) {
	informer := cache.NewSharedIndexInformer(
		&cache.ListWatch{
			ListFunc: func(opts metav1.ListOptions) (runtime.Object, error) {
				return c.Clientset.CoreV1().Services(namespace).List(ctx, opts)
			},
			WatchFunc: func(opts metav1.ListOptions) (watch.Interface, error) {
				return c.Clientset.CoreV1().Services(namespace).Watch(ctx, opts)
			},
		},
		&corev1.Service{},
		0,
		cache.Indexers{},
	)

	out := make(chan reconcile.Event)
	var synced atomic.Bool
	var mu sync.Mutex
	var pending []servicemodel.KubernetesService

	emit := func(e reconcile.Event) {
		select {
		case out <- e:
		case <-ctx.Done():
		}
	}

	informer.AddEventHandler(cache.ResourceEventHandlerFuncs{
		AddFunc: func(obj interface{}) {
			svc, ok := obj.(*corev1.Service)
			if !ok {
				return
			}
			model := servicemodel.FromService(svc)
			if !synced.Load() {
				mu.Lock()
				pending = append(pending, model)
				mu.Unlock()
				return
			}
			emit(reconcile.AppliedService{Service: model})
		},
		UpdateFunc: func(_, newObj interface{}) {
			svc, ok := newObj.(*corev1.Service)
			if !ok {
				return
			}
			emit(reconcile.AppliedService{Service: servicemodel.FromService(svc)})
		},
		DeleteFunc: func(obj interface{}) {
			svc, ok := obj.(*corev1.Service)
			if !ok {
				if tombstone, ok := obj.(cache.DeletedFinalStateUnknown); ok {
					svc, ok = tombstone.Obj.(*corev1.Service)
					if !ok {
						return
					}
				} else {
					return
				}
			}
			emit(reconcile.DeletedService{Service: servicemodel.FromService(svc)})
		},
	})

	go informer.Run(ctx.Done())

	go func() {
		if !cache.WaitForCacheSync(ctx.Done(), informer.HasSynced) {
			close(out)
			return
		}

		mu.Lock()
		batch := pending
		pending = nil
		mu.Unlock()

		emit(reconcile.ResetServices{Services: batch})
		synced.Store(true)

		<-ctx.Done()
		close(out)
	}()

	return out, informer.HasSynced
}

// WatchPods mirrors WatchServices for Pods, emitting ResetPods once
// synced followed by AppliedPod/DeletedPod for subsequent changes.
func (c *Client) WatchPods(ctx context.Context, namespace string) (<-chan reconcile.Event, cache.InformerSynced) {
	informer := cache.NewSharedIndexInformer(
		&cache.ListWatch{
			ListFunc: func(opts metav1.ListOptions) (runtime.Object, error) {
				return c.Clientset.CoreV1().Pods(namespace).List(ctx, opts)
			},
			WatchFunc: func(opts metav1.ListOptions) (watch.Interface, error) {
				return c.Clientset.CoreV1().Pods(namespace).Watch(ctx, opts)
			},
		},
		&corev1.Pod{},
		0,
		cache.Indexers{},
	)

	out := make(chan reconcile.Event)
	var synced atomic.Bool
	var mu sync.Mutex
	var pending []*corev1.Pod

	emit := func(e reconcile.Event) {
		select {
		case out <- e:
		case <-ctx.Done():
		}
	}

	informer.AddEventHandler(cache.ResourceEventHandlerFuncs{
		AddFunc: func(obj interface{}) {
			pod, ok := obj.(*corev1.Pod)
			if !ok {
				return
			}
			if !synced.Load() {
				mu.Lock()
				pending = append(pending, pod)
				mu.Unlock()
				return
			}
			emit(reconcile.AppliedPod{Pod: pod})
		},
		UpdateFunc: func(_, newObj interface{}) {
			pod, ok := newObj.(*corev1.Pod)
			if !ok {
				return
			}
			emit(reconcile.AppliedPod{Pod: pod})
		},
		DeleteFunc: func(obj interface{}) {
			pod, ok := obj.(*corev1.Pod)
			if !ok {
				if tombstone, ok := obj.(cache.DeletedFinalStateUnknown); ok {
					pod, ok = tombstone.Obj.(*corev1.Pod)
					if !ok {
						return
					}
				} else {
					return
				}
			}
			emit(reconcile.DeletedPod{Pod: pod})
		},
	})

	go informer.Run(ctx.Done())

	go func() {
		if !cache.WaitForCacheSync(ctx.Done(), informer.HasSynced) {
			close(out)
			return
		}

		mu.Lock()
		batch := pending
		pending = nil
		mu.Unlock()

		emit(reconcile.ResetPods{Pods: batch})
		synced.Store(true)

		<-ctx.Done()
		close(out)
	}()

	return out, informer.HasSynced
}
