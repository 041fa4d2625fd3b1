// Package k8sprovider is an optional ibus producer that learns interface
// and address state from the Kubernetes API instead of the kernel
// (SPEC_FULL.md §4.7) — the same translation cloud-native BGP speakers
// like Cilium's BGP control plane perform when running as a pod, here
// applied to holod's internal bus instead of a BGP RIB.
package k8sprovider

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"time"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/client-go/informers"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/cache"

	"github.com/holocore/holod/internal/ibus"
)

const resyncPeriod = 30 * time.Second

// Provider watches Node and Service objects and republishes them onto a
// Broker as ibus messages. It is registered like any other ibus
// producer (SPEC_FULL.md §4.7: "no special status in the transaction
// engine").
type Provider struct {
	client  kubernetes.Interface
	broker  *ibus.Broker
	log     *slog.Logger
	factory informers.SharedInformerFactory
	nodeInf cache.SharedIndexInformer
	svcInf  cache.SharedIndexInformer
}

// New builds a Provider. The caller supplies an already-constructed
// client (typically via rest.InClusterConfig + kubernetes.NewForConfig,
// deliberately left to the daemon's bootstrap code instead of this
// package, matching the teacher's separation between its pkg/k8s/
// client.go credential plumbing and controller.go's event logic).
func New(client kubernetes.Interface, broker *ibus.Broker, log *slog.Logger) *Provider {
	if log == nil {
		log = slog.Default()
	}
	factory := informers.NewSharedInformerFactory(client, resyncPeriod)
	p := &Provider{
		client:  client,
		broker:  broker,
		log:     log,
		factory: factory,
		nodeInf: factory.Core().V1().Nodes().Informer(),
		svcInf:  factory.Core().V1().Services().Informer(),
	}

	p.nodeInf.AddEventHandler(cache.ResourceEventHandlerFuncs{
		AddFunc:    func(obj any) { p.onNode(obj) },
		UpdateFunc: func(_, obj any) { p.onNode(obj) },
		DeleteFunc: p.onNodeDelete,
	})
	p.svcInf.AddEventHandler(cache.ResourceEventHandlerFuncs{
		AddFunc:    func(obj any) { p.onService(obj) },
		UpdateFunc: func(_, obj any) { p.onService(obj) },
		DeleteFunc: p.onServiceDelete,
	})

	return p
}

// Run starts the informer factory and blocks until ctx is cancelled,
// mirroring the teacher's Controller.Run shape.
func (p *Provider) Run(ctx context.Context) error {
	p.log.Info("k8sprovider starting")
	go p.factory.Start(ctx.Done())

	if !cache.WaitForCacheSync(ctx.Done(), p.nodeInf.HasSynced, p.svcInf.HasSynced) {
		return fmt.Errorf("k8sprovider: timed out waiting for informer caches to sync")
	}
	<-ctx.Done()
	p.log.Info("k8sprovider stopping")
	return nil
}

// onNode republishes a Node's addresses as an InterfaceUpd (treating the
// node as a virtual interface named after it, the same stand-in
// abstraction spec.md's ifmgr uses for "an interface exists") and one
// InterfaceAddressAdd per node address, plus a RouterIDUpdate from its
// first internal IPv4 address.
func (p *Provider) onNode(obj any) {
	node, ok := obj.(*corev1.Node)
	if !ok {
		return
	}

	ifName := "k8s-node/" + node.Name
	p.broker.Publish(ibus.InterfaceUpd{
		IfName:  ifName,
		MTU:     1500,
		Flags:   ibus.IfUp,
	})

	ridSent := false
	for _, addr := range node.Status.Addresses {
		if addr.Type != corev1.NodeInternalIP && addr.Type != corev1.NodeExternalIP {
			continue
		}
		ip, err := netip.ParseAddr(addr.Address)
		if err != nil {
			continue
		}
		bits := 32
		if ip.Is6() {
			bits = 128
		}
		prefix := netip.PrefixFrom(ip, bits)
		p.broker.Publish(ibus.InterfaceAddressAdd{IfName: ifName, Prefix: prefix})

		if addr.Type == corev1.NodeInternalIP && ip.Is4() && !ridSent {
			ridSent = true
			v4 := ip
			p.broker.Publish(ibus.RouterIDUpdate{IPv4: &v4})
		}
	}
}

func (p *Provider) onNodeDelete(obj any) {
	node, ok := obj.(*corev1.Node)
	if !ok {
		return
	}
	p.broker.Publish(ibus.InterfaceDel{IfName: "k8s-node/" + node.Name})
}

// onService republishes a Service's ClusterIP as an address on a
// virtual per-service interface, the same "treat the K8s object as an
// interface" translation applied to Nodes above.
func (p *Provider) onService(obj any) {
	svc, ok := obj.(*corev1.Service)
	if !ok {
		return
	}
	if svc.Spec.ClusterIP == "" || svc.Spec.ClusterIP == corev1.ClusterIPNone {
		return
	}
	ip, err := netip.ParseAddr(svc.Spec.ClusterIP)
	if err != nil {
		return
	}
	ifName := fmt.Sprintf("k8s-svc/%s/%s", svc.Namespace, svc.Name)
	bits := 32
	if ip.Is6() {
		bits = 128
	}
	p.broker.Publish(ibus.InterfaceUpd{IfName: ifName, MTU: 1500, Flags: ibus.IfUp})
	p.broker.Publish(ibus.InterfaceAddressAdd{IfName: ifName, Prefix: netip.PrefixFrom(ip, bits)})
}

func (p *Provider) onServiceDelete(obj any) {
	svc, ok := obj.(*corev1.Service)
	if !ok {
		return
	}
	p.broker.Publish(ibus.InterfaceDel{IfName: fmt.Sprintf("k8s-svc/%s/%s", svc.Namespace, svc.Name)})
}
